package marketplace_test

import (
	"testing"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/marketplace"
	"github.com/stretchr/testify/assert"
)

func TestParseGPUFromKeyPath(t *testing.T) {
	attrs := []marketplace.Attribute{
		{Key: "region", Value: "us-west"},
		{Key: "capabilities/gpu/vendor/nvidia/model/rtx4090", Value: "true"},
	}

	gpu := marketplace.ParseGPU(attrs)
	assert.NotNil(t, gpu)
	assert.Equal(t, "nvidia", gpu.Vendor)
	assert.Equal(t, "rtx4090", gpu.Model)
}

func TestParseGPUNoGPU(t *testing.T) {
	attrs := []marketplace.Attribute{
		{Key: "region", Value: "eu-central"},
		{Key: "organization", Value: "someone"},
	}
	assert.Nil(t, marketplace.ParseGPU(attrs))
}

func TestParseGPUDeterministicAcrossMultipleModels(t *testing.T) {
	attrs := []marketplace.Attribute{
		{Key: "capabilities/gpu/vendor/nvidia/model/h100", Value: "true"},
		{Key: "capabilities/gpu/vendor/nvidia/model/a100", Value: "true"},
	}

	gpu := marketplace.ParseGPU(attrs)
	assert.NotNil(t, gpu)
	assert.Equal(t, "a100", gpu.Model)
}

func TestEnrichBid(t *testing.T) {
	bid := marketplace.Bid{
		Attributes: []marketplace.Attribute{
			{Key: "organization", Value: "Overclock"},
			{Key: "country", Value: "us"},
			{Key: "capabilities/gpu/vendor/Nvidia/model/A100", Value: "true"},
		},
	}
	bid.Enrich()

	assert.Equal(t, "overclock", bid.Organization)
	assert.Equal(t, "US", bid.Country)
	assert.NotNil(t, bid.GPU)
	assert.Equal(t, "a100", bid.GPU.Model)
}

func TestLeaseStatusReadiness(t *testing.T) {
	status := &marketplace.LeaseStatus{
		Services: map[string]*marketplace.ServiceStatus{
			"comfyui": {Name: "comfyui", Ready: 1, Available: 1, URIs: []string{"comfyui.example.provider.net"}},
			"sidecar": {Name: "sidecar", Ready: 0, Available: 1},
		},
	}

	assert.False(t, status.AllReady())
	assert.True(t, status.AnyReady())
	assert.Equal(t, "comfyui.example.provider.net", status.FirstURI())

	status.Services["sidecar"].Ready = 1
	assert.True(t, status.AllReady())
}

func TestLeaseStatusEmpty(t *testing.T) {
	var status *marketplace.LeaseStatus
	assert.False(t, status.AllReady())
	assert.False(t, status.AnyReady())
	assert.Equal(t, "", status.FirstURI())
}
