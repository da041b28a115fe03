package cassette

import (
	"encoding/base64"
	"unicode/utf8"
)

// EncodeBody chooses utf-8 or base64 representation for raw body bytes:
// UTF-8 when the bytes decode cleanly, base64 otherwise.
func EncodeBody(body []byte) (string, BodyEncoding) {
	if len(body) == 0 {
		return "", EncodingUTF8
	}
	if utf8.Valid(body) {
		return string(body), EncodingUTF8
	}
	return base64.StdEncoding.EncodeToString(body), EncodingBase64
}

// DecodeBody reverses EncodeBody.
func DecodeBody(encoded string, enc BodyEncoding) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	if enc == EncodingBase64 {
		return base64.StdEncoding.DecodeString(encoded)
	}
	return []byte(encoded), nil
}

// prepare fills in BodyEncoded/BodyEncoding from Body ahead of JSON
// marshaling.
func (r *Request) prepare() {
	r.BodyEncoded, r.BodyEncoding = EncodeBody(r.Body)
}

func (r *Response) prepare() {
	r.BodyEncoded, r.BodyEncoding = EncodeBody(r.Body)
}

// hydrate fills in Body from BodyEncoded/BodyEncoding after JSON
// unmarshaling.
func (r *Request) hydrate() error {
	b, err := DecodeBody(r.BodyEncoded, r.BodyEncoding)
	if err != nil {
		return err
	}
	r.Body = b
	return nil
}

func (r *Response) hydrate() error {
	b, err := DecodeBody(r.BodyEncoded, r.BodyEncoding)
	if err != nil {
		return err
	}
	r.Body = b
	return nil
}
