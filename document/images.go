package document

// Decoders for the image formats accepted by InsertImage. pdfcpu registers
// PNG, JPEG and WebP itself.
import (
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)
