package storage

import (
	"fmt"
	"mime"
	"strings"
)

var labelExtensions = map[string]string{
	"application/pdf": "pdf",
	"image/png":       "png",
	"image/gif":       "gif",
	"application/zpl": "zpl",
	"text/plain":      "zpl",
}

// LabelObjectPath composes the archive path of a shipping label:
// labels/orders/{orderID}/{shipmentID}.{ext}. Unknown content types are stored as .bin.
func LabelObjectPath(orderID, shipmentID, contentType string) (string, error) {
	order, err := validateSegment("orderID", orderID)
	if err != nil {
		return "", err
	}
	shipment, err := validateSegment("shipmentID", shipmentID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("labels/orders/%s/%s.%s", order, shipment, labelExtension(contentType)), nil
}

func labelExtension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(contentType))
	if err != nil {
		return "bin"
	}
	if ext, ok := labelExtensions[strings.ToLower(mediaType)]; ok {
		return ext
	}
	return "bin"
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
