package pairing

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const qrModuleSize = 8

// SVGQR renders the active pairing URI as an SVG QR image. With no active
// payload a placeholder explaining the situation is returned instead, so
// the endpoint always produces a renderable image.
func (s *Service) SVGQR() []byte {
	active := s.ActivePayload()
	if active == nil {
		return emptyQRSVG("No active pairing code")
	}
	if active.PairingURI == "" {
		return emptyQRSVG("Missing pairing URI")
	}
	svg, err := renderQRSVG(active.PairingURI)
	if err != nil {
		return emptyQRSVG("QR encode failed")
	}
	return svg
}

// renderQRSVG encodes the payload at medium error correction and draws
// each dark module as one SVG rect.
func renderQRSVG(payload string) ([]byte, error) {
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	bitmap := qr.Bitmap() // includes the quiet zone
	n := len(bitmap)
	size := n * qrModuleSize

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" shape-rendering="crispEdges">`, size, size)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="#ffffff"/>`, size, size)
	for y, row := range bitmap {
		for x, dark := range row {
			if dark {
				fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="#000000"/>`,
					x*qrModuleSize, y*qrModuleSize, qrModuleSize, qrModuleSize)
			}
		}
	}
	b.WriteString(`</svg>`)
	return []byte(b.String()), nil
}

func emptyQRSVG(message string) []byte {
	return []byte(
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 256 256">` +
			`<rect width="256" height="256" fill="#ffffff"/>` +
			`<text x="128" y="128" text-anchor="middle" dominant-baseline="middle" ` +
			`font-family="sans-serif" font-size="14" fill="#222222">` +
			message +
			`</text></svg>`)
}
