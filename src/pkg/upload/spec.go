package upload

import "fmt"

const openAPITemplate = `%[1]s:
  post:
    tags:
      - %[3]s
    summary: Upload image
    description: |
      Streams a JPEG, PNG or WebP image. The image is resized to a fixed
      geometry for its orientation and stored as WebP.
    security:
      - backendToken: []
    requestBody:
      required: true
      content:
        application/octet-stream:
          schema:
            type: string
            format: binary
    responses:
      '200':
        description: Upload successful
        headers:
          X-Image-Id:
            schema:
              type: string
              format: uuid
        content:
          text/plain:
            schema:
              type: string
      '401':
        $ref: '#/components/responses/Rejected'
      '413':
        $ref: '#/components/responses/Rejected'
      '415':
        $ref: '#/components/responses/Rejected'
      '422':
        $ref: '#/components/responses/Rejected'
      '429':
        $ref: '#/components/responses/Rejected'
      '500':
        $ref: '#/components/responses/Rejected'
%[2]s:
  get:
    tags:
      - %[3]s
    summary: Upload image over WebSocket
    description: |
      Upgrades to a WebSocket. Binary frames carry image chunks; a text frame
      "end" completes the upload. The server answers with one text frame and
      closes the socket.
    security:
      - backendToken: []
    responses:
      '101':
        description: Switching protocols
      '401':
        $ref: '#/components/responses/Rejected'
      '429':
        $ref: '#/components/responses/Rejected'`

// GetOpenAPISpec describes the upload routes.
func GetOpenAPISpec(tag string) string {
	return fmt.Sprintf(openAPITemplate, PathUploads, PathUploadStream, tag)
}
