package images

import (
	"fmt"
	"strings"
)

const openAPITemplate = `%[1]s:
  get:
    tags:
      - %[2]s
    summary: List images
    description: Lists the caller's normalized images, newest first. Requires a token with action listImages.
    security:
      - backendToken: []
    parameters:
      - name: limit
        in: query
        required: false
        schema:
          type: integer
          minimum: 1
          maximum: 500
          default: 50
    responses:
      '200':
        description: Images of the token subject
        content:
          application/json:
            schema:
              type: object
              properties:
                images:
                  type: array
                  items:
                    $ref: '#/components/schemas/ImageMetadata'
      '400':
        description: Invalid limit
      '401':
        description: Missing or invalid token
      '429':
        description: Too many requests
%[1]s/{imageId}:
  parameters:
    - name: imageId
      in: path
      required: true
      schema:
        type: string
        format: uuid
  get:
    tags:
      - %[2]s
    summary: Download image
    description: Streams a WebP artifact owned by the caller. Requires a token with action readImage.
    security:
      - backendToken: []
    responses:
      '200':
        description: WebP bytes
        content:
          image/webp:
            schema:
              type: string
              format: binary
      '401':
        description: Missing or invalid token
      '404':
        description: Image not found
  delete:
    tags:
      - %[2]s
    summary: Delete image
    description: Removes an artifact owned by the caller. Requires a token with action deleteImage.
    security:
      - backendToken: []
    responses:
      '204':
        description: Image deleted
      '401':
        description: Missing or invalid token
      '404':
        description: Image not found
      '500':
        description: Internal server error`

func GetOpenAPISpec(rootPath, tag string) string {
	if rootPath == "" || tag == "" {
		return ""
	}

	rootPath = strings.TrimSuffix(rootPath, "/")

	return fmt.Sprintf(openAPITemplate, rootPath, tag)
}
