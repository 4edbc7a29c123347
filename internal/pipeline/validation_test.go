package pipeline

import "testing"

func TestValidateUpload_ContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		data        []byte
		want        string
	}{
		{"declared image", "image/jpeg", []byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
		{"declared with params", "application/PDF; charset=binary", []byte("%PDF-1.4"), "application/pdf"},
		{"sniffed pdf", "", []byte("%PDF-1.7\n"), "application/pdf"},
		{"sniffed png", "application/octet-stream", pngHeader, "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &Upload{FileName: "doc", ContentType: tt.contentType, Data: tt.data}
			if err := ValidateUpload(u); err != nil {
				t.Fatalf("ValidateUpload() error = %v", err)
			}
			if u.ContentType != tt.want {
				t.Errorf("ContentType = %q, want %q", u.ContentType, tt.want)
			}
		})
	}
}

func TestValidateUpload_ChecksEmptyFirst(t *testing.T) {
	err := ValidateUpload(&Upload{ContentType: "text/plain"})
	if err == nil || err.Error() != "file is empty" {
		t.Errorf("error = %v, want file is empty", err)
	}
}

func TestValidateUpload_SizeLimitIsInclusive(t *testing.T) {
	u := &Upload{ContentType: "application/pdf", Data: make([]byte, MaxUploadSize)}
	if err := ValidateUpload(u); err != nil {
		t.Errorf("ValidateUpload() at limit error = %v", err)
	}
}
