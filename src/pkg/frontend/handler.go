package frontend

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"
)

const SpecFile = "openapi.yaml"

// Handler serves the OpenAPI document at basepath + SpecFile and the Swagger
// UI rendering it under basepath.
func Handler(basepath string, spec []byte) http.HandlerFunc {
	if !strings.HasSuffix(basepath, "/") {
		basepath += "/"
	}
	specPath := basepath + SpecFile
	ui := httpSwagger.Handler(httpSwagger.URL(specPath))
	modified := time.Now()

	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == specPath {
			w.Header().Set("Content-Type", "application/yaml")
			http.ServeContent(w, r, SpecFile, modified, bytes.NewReader(spec))
			return
		}
		ui(w, r)
	}
}
