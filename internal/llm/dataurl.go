package llm

import (
	"encoding/base64"
	"strings"

	"github.com/jo-hoe/medisnap/internal/common"
)

const (
	dataURLPrefix    = "data:"
	dataURLBase64Sep = ";base64,"
)

// DataURL embeds data as a base64 data URL. An empty or generic mime type
// falls back to image/jpeg, which vision endpoints accept for any image.
func DataURL(mime string, data []byte) string {
	mt := strings.TrimSpace(mime)
	if mt == "" || strings.EqualFold(mt, common.MimeOctetStream) {
		mt = common.DefaultUploadMimeType
	}
	return dataURLPrefix + mt + dataURLBase64Sep + base64.StdEncoding.EncodeToString(data)
}
