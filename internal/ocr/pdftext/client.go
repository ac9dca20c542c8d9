// Package pdftext is an ocr.Client that reads the embedded text layer of digital PDFs.
// It reports no token confidences and cannot read scanned images.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"medreport-backend/internal/ocr"
)

const providerName = "pdftext"

var pdfMagic = []byte("%PDF-")

type Client struct{}

func New() *Client { return &Client{} }

func (c *Client) Name() string { return providerName }

func (c *Client) IsConfigured() bool { return true }

// Extract returns the text layer page by page. Anything that is not a PDF is rejected.
func (c *Client) Extract(ctx context.Context, doc ocr.Document) (res ocr.Result, err error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, ocr.Timeout(providerName, err)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(doc.Data, "\x00\t\r\n "), pdfMagic) {
		return ocr.Result{}, &ocr.UpstreamError{
			Provider: providerName,
			Code:     ocr.CodeUnsupportedMedia,
			Message:  fmt.Sprintf("cannot read text from %q without an OCR engine", doc.ContentType),
		}
	}

	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			res = ocr.Result{}
			err = &ocr.UpstreamError{Provider: providerName, Code: ocr.CodeMalformedDoc, Message: fmt.Sprintf("parse pdf: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		return ocr.Result{}, &ocr.UpstreamError{Provider: providerName, Code: ocr.CodeMalformedDoc, Err: err}
	}

	total := reader.NumPage()
	res = ocr.Result{PageCount: total, Pages: make([]ocr.Page, 0, total)}
	var text strings.Builder
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return ocr.Result{}, ocr.Timeout(providerName, err)
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		plain, err := page.GetPlainText(nil)
		if err != nil {
			return ocr.Result{}, &ocr.UpstreamError{Provider: providerName, Code: ocr.CodeMalformedDoc, Err: fmt.Errorf("page %d: %w", i, err)}
		}
		words := strings.Fields(plain)
		tokens := make([]ocr.Token, 0, len(words))
		for _, w := range words {
			tokens = append(tokens, ocr.Token{Content: w})
		}
		res.Pages = append(res.Pages, ocr.Page{Number: i, Tokens: tokens})

		if text.Len() > 0 && plain != "" {
			text.WriteString("\n")
		}
		text.WriteString(strings.TrimSpace(plain))
	}
	res.Text = text.String()
	return res, nil
}

var _ ocr.Client = (*Client)(nil)
