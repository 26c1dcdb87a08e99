package model

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromJSON(t *testing.T) {
	t.Run("full config with model_registry key", func(t *testing.T) {
		jsonData := []byte(`{
			"model_registry": {
				"capabilities": {
					"extraction": {
						"description": "Extraction capability",
						"preferred": ["model-a"],
						"fallback": ["model-b"]
					}
				},
				"endpoints": {
					"model-a": {
						"provider": "test",
						"model": "test-model"
					}
				}
			}
		}`)

		r, err := LoadFromJSON(jsonData)
		if err != nil {
			t.Fatalf("failed to load: %v", err)
		}

		if got := r.Resolve(CapabilityExtraction); got != "model-a" {
			t.Errorf("expected model-a, got %q", got)
		}
	})

	t.Run("direct registry config", func(t *testing.T) {
		jsonData := []byte(`{
			"capabilities": {
				"embedding": {
					"preferred": ["nomic-embed"],
					"fallback": []
				}
			},
			"endpoints": {
				"nomic-embed": {
					"provider": "ollama",
					"model": "nomic-embed-text",
					"dimension": 768
				}
			}
		}`)

		r, err := LoadFromJSON(jsonData)
		if err != nil {
			t.Fatalf("failed to load: %v", err)
		}

		if got := r.Resolve(CapabilityEmbedding); got != "nomic-embed" {
			t.Errorf("expected nomic-embed, got %q", got)
		}

		ep := r.GetEndpoint("nomic-embed")
		if ep == nil || ep.Dimension != 768 {
			t.Errorf("expected dimension 768, got %+v", ep)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		jsonData := []byte(`not valid json`)

		_, err := LoadFromJSON(jsonData)
		if err == nil {
			t.Error("expected error for invalid JSON")
		}
	})
}

func TestLoadFromFile(t *testing.T) {
	// Create a temporary config file
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	configContent := []byte(`{
		"model_registry": {
			"capabilities": {
				"vision": {
					"preferred": ["vision-model"],
					"fallback": []
				}
			},
			"endpoints": {
				"vision-model": {
					"provider": "local",
					"model": "vision"
				}
			}
		}
	}`)

	if err := os.WriteFile(configPath, configContent, 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	r, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load from file: %v", err)
	}

	if got := r.Resolve(CapabilityVision); got != "vision-model" {
		t.Errorf("expected vision-model, got %q", got)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.json")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRegistryToConfig(t *testing.T) {
	r := NewDefaultRegistry()
	cfg := r.ToConfig()

	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	if len(cfg.Capabilities) == 0 {
		t.Error("expected capabilities in config")
	}

	if len(cfg.Endpoints) == 0 {
		t.Error("expected endpoints in config")
	}

	// Check that capability keys are strings
	if _, ok := cfg.Capabilities["extraction"]; !ok {
		t.Error("expected 'extraction' capability in config")
	}
}

func TestMergeFromConfig(t *testing.T) {
	r := NewDefaultRegistry()

	// Merge new config that updates extraction
	cfg := &RegistryConfig{
		Capabilities: map[string]*CapabilityConfig{
			"extraction": {
				Description: "Updated extraction",
				Preferred:   []string{"new-extractor"},
				Fallback:    []string{},
			},
		},
		Endpoints: map[string]*EndpointConfig{
			"new-extractor": {
				Provider: "custom",
				Model:    "extractor-v2",
			},
		},
	}

	r.MergeFromConfig(cfg)

	// Extraction should now resolve to new model
	if got := r.Resolve(CapabilityExtraction); got != "new-extractor" {
		t.Errorf("expected new-extractor after merge, got %q", got)
	}

	// Untouched embedding capability should still resolve
	if got := r.Resolve(CapabilityEmbedding); got == "" {
		t.Error("embedding capability should resolve to a non-empty model after merge")
	}

	// New endpoint should exist
	if endpoint := r.GetEndpoint("new-extractor"); endpoint == nil {
		t.Error("expected new-extractor endpoint after merge")
	}

	// Old endpoints should still exist
	if endpoint := r.GetEndpoint("qwen"); endpoint == nil {
		t.Error("expected qwen endpoint to still exist after merge")
	}
}
