package utils

import (
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/twivo/twivo-media/src/pkg/images"
	"github.com/twivo/twivo-media/src/pkg/upload"
	"gopkg.in/yaml.v3"
)

const (
	ImagesTag  = "ImageService"
	UploadTag  = "UploadService"
	PathPrefix = "/v1/images"
)

//go:embed docs/openapi.yaml
var openAPISpecs string

func addTag(spec map[string]interface{}, tag string) {
	existing, _ := spec["tags"].([]interface{})
	for _, t := range existing {
		if entry, ok := t.(map[string]interface{}); ok && entry["name"] == tag {
			return
		}
	}
	spec["tags"] = append(existing, map[string]interface{}{"name": tag})
}

func mergePaths(spec map[string]interface{}, fragment string) {
	var extra map[string]interface{}
	if err := yaml.Unmarshal([]byte(fragment), &extra); err != nil {
		slog.Warn("Failed to unmarshal OpenAPI fragment", "error", err)
		return
	}
	paths, ok := spec["paths"].(map[string]interface{})
	if !ok {
		paths = map[string]interface{}{}
		spec["paths"] = paths
	}
	for k, v := range extra {
		paths[k] = v
	}
}

// GenerateOpenAPISpecs merges the route fragments of every service into the
// embedded base document.
func GenerateOpenAPISpecs() (string, error) {
	var spec map[string]interface{}
	if err := yaml.Unmarshal([]byte(openAPISpecs), &spec); err != nil {
		return "", fmt.Errorf("failed to parse OpenAPI spec: %w", err)
	}

	addTag(spec, UploadTag)
	mergePaths(spec, upload.GetOpenAPISpec(UploadTag))
	addTag(spec, ImagesTag)
	mergePaths(spec, images.GetOpenAPISpec(PathPrefix, ImagesTag))

	bytes, bytesErr := yaml.Marshal(spec)
	if bytesErr != nil {
		return "", fmt.Errorf("failed to marshal OpenAPI spec: %w", bytesErr)
	}
	return string(bytes), nil
}
