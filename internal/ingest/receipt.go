package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"backoffice/internal/core"
)

// MaxReceiptBytes caps a single receipt upload.
const MaxReceiptBytes = 10 << 20

var (
	ErrTooLarge        = errors.New("file exceeds 10 MiB")
	ErrUnsupportedType = errors.New("only images and PDF files are accepted")
	ErrEmptyFile       = errors.New("file is empty")
)

// ReceiptUpload carries the OCR fields and file facts of an uploaded receipt.
type ReceiptUpload struct {
	FileName     string
	ContentType  string
	Size         int64
	ContentHash  string
	VendorGuess  string
	Total        decimal.Decimal
	Currency     string
	DocumentDate time.Time
	Confidence   float64
}

// FieldGetter returns a form value by name, like url.Values.Get.
type FieldGetter func(name string) string

// ReadReceipt hashes the file and validates the OCR fields. The reader is
// consumed up to MaxReceiptBytes+1 bytes.
func ReadReceipt(file io.Reader, fileName, declaredType string, get FieldGetter, defaultCurrency string) (ReceiptUpload, error) {
	up := ReceiptUpload{FileName: sanitizeFileName(fileName)}

	h := sha256.New()
	head := make([]byte, 0, 512)
	buf := make([]byte, 32*1024)
	for {
		n, err := file.Read(buf)
		if n > 0 {
			up.Size += int64(n)
			if up.Size > MaxReceiptBytes {
				return up, ErrTooLarge
			}
			if room := cap(head) - len(head); room > 0 {
				head = append(head, buf[:min(n, room)]...)
			}
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return up, fmt.Errorf("read upload: %w", err)
		}
	}
	if up.Size == 0 {
		return up, ErrEmptyFile
	}
	up.ContentHash = hex.EncodeToString(h.Sum(nil))

	ct, err := contentType(declaredType, head)
	if err != nil {
		return up, err
	}
	up.ContentType = ct

	if err := up.applyFields(get, defaultCurrency); err != nil {
		return up, err
	}
	return up, nil
}

func (up *ReceiptUpload) applyFields(get FieldGetter, defaultCurrency string) error {
	up.VendorGuess = strings.Join(strings.Fields(get("vendor")), " ")

	total, err := core.ParsePositiveAmount(get("total"))
	if err != nil {
		return fmt.Errorf("%w: total %q", err, get("total"))
	}
	up.Total = total

	up.Currency = strings.ToUpper(strings.TrimSpace(get("currency")))
	if up.Currency == "" {
		up.Currency = strings.ToUpper(defaultCurrency)
	}
	if len(up.Currency) != 3 {
		return core.Invalidf("currency %q is not a 3-letter code", up.Currency)
	}

	if raw := strings.TrimSpace(get("date")); raw != "" {
		d, err := ParseDate(raw)
		if err != nil {
			return core.Invalidf("date: %v", err)
		}
		up.DocumentDate = d
	}

	conf, err := ParseConfidence(get("confidence"))
	if err != nil {
		return err
	}
	up.Confidence = conf
	return nil
}

// ParseConfidence accepts a fraction ("0.82") or a percentage ("82", "82%").
// A missing value means the OCR gave no score and is treated as 0.
func ParseConfidence(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	pct := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, core.Invalidf("confidence %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, core.Invalidf("confidence %q is not a number", s)
	}
	if pct || v > 1 {
		v /= 100
	}
	if v < 0 || v > 1 {
		return 0, core.Invalidf("confidence %q out of range", s)
	}
	return v, nil
}

func contentType(declared string, head []byte) (string, error) {
	ct := declared
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		ct = mt
	}
	if ct == "" || ct == "application/octet-stream" {
		ct, _, _ = mime.ParseMediaType(http.DetectContentType(head))
	}
	if strings.HasPrefix(ct, "image/") || ct == "application/pdf" {
		return ct, nil
	}
	return "", ErrUnsupportedType
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if len(name) > 200 {
		name = name[len(name)-200:]
	}
	return name
}
