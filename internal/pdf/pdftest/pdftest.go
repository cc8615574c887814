// Package pdftest writes small, valid PDF documents for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"math/rand"
)

// Build returns a PDF with one page per entry of contentSizes. Each page's
// content stream carries roughly that many bytes of incompressible filler, so
// larger entries produce larger pages once extracted.
func Build(contentSizes ...int) []byte {
	rng := rand.New(rand.NewSource(int64(len(contentSizes))))

	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	var kids bytes.Buffer
	for i := range contentSizes {
		fmt.Fprintf(&kids, "%d 0 R ", 3+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", bytes.TrimSpace(kids.Bytes()), len(contentSizes)))

	for i, size := range contentSizes {
		content := contentStream(rng, i+1, size)
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents %d 0 R >>", 4+2*i))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func contentStream(rng *rand.Rand, pageNr, size int) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "0 0 m %d %d l S\n", 10*pageNr, 10*pageNr)
	const hex = "0123456789abcdef"
	for b.Len() < size {
		b.WriteString("% ")
		for i := 0; i < 64; i++ {
			b.WriteByte(hex[rng.Intn(len(hex))])
		}
		b.WriteByte('\n')
	}
	return b.String()
}
