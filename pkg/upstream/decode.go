package upstream

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Decoder turns a response body into a page.
type Decoder interface {
	Decode(body []byte) (*PageResult, error)
}

// okCodes are the result codes reporting success. "03" is NODATA_ERROR, which the
// portal returns past the last page; it is treated as an empty page.
var okCodes = map[string]bool{
	"00":       true,
	"0":        true,
	"OK":       true,
	"INFO-000": true,
	"03":       true,
}

// IsOK reports whether code is a success result code.
func IsOK(code string) bool {
	return okCodes[strings.TrimSpace(code)]
}

// DecoderFor picks the decoder for a response by Content-Type, falling back to sniffing the body.
func DecoderFor(contentType string, body []byte) Decoder {
	if strings.Contains(strings.ToLower(contentType), "xml") {
		return XMLDecoder{}
	}
	if trimmed := bytes.TrimLeft(body, " \t\r\n\ufeff"); len(trimmed) > 0 && trimmed[0] == '<' {
		return XMLDecoder{}
	}
	return JSONDecoder{}
}

// JSONDecoder reads the portal's JSON envelopes. It accepts the
// {header, body:{items}} shape, the same nested under "response" with
// items.item, and a flat {resultCode, item} shape.
type JSONDecoder struct{}

func (JSONDecoder) Decode(body []byte) (*PageResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, &DecodeError{Format: "json", Err: errors.New("invalid json")}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, &DecodeError{Format: "json", Err: errors.New("top-level value is not an object")}
	}

	header := firstObject(root, "header", "response.header")
	if !header.Exists() {
		header = root
	}
	payload := firstObject(root, "body", "response.body")
	if !payload.Exists() {
		payload = root
	}

	page := &PageResult{
		ResultCode: strings.TrimSpace(header.Get("resultCode").String()),
		ResultMsg:  strings.TrimSpace(header.Get("resultMsg").String()),
		TotalCount: int(payload.Get("totalCount").Int()),
		PageNo:     int(payload.Get("pageNo").Int()),
		NumOfRows:  int(payload.Get("numOfRows").Int()),
	}

	var list gjson.Result
	switch items := payload.Get("items"); {
	case items.IsArray():
		list = items
	case items.IsObject():
		list = items.Get("item")
	default:
		list = payload.Get("item")
	}

	switch {
	case list.IsArray():
		for _, v := range list.Array() {
			if v.IsObject() {
				page.Items = append(page.Items, jsonItem(v))
			}
		}
	case list.IsObject():
		// A single result is sometimes sent as an object instead of a one-element array.
		page.Items = append(page.Items, jsonItem(list))
	}

	return page, nil
}

func firstObject(root gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := root.Get(p); r.IsObject() {
			return r
		}
	}
	return gjson.Result{}
}

func jsonItem(v gjson.Result) RawItem {
	item := make(RawItem)
	v.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Null || value.IsObject() || value.IsArray() {
			return true
		}
		if s := strings.TrimSpace(value.String()); s != "" {
			item[key.String()] = s
		}
		return true
	})
	return item
}

// XMLDecoder reads the portal's XML responses, including the gateway's
// OpenAPI_ServiceResponse error envelope.
type XMLDecoder struct{}

func (XMLDecoder) Decode(body []byte) (*PageResult, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		if strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
			return input, nil
		}
		return nil, fmt.Errorf("unsupported charset %q", label)
	}

	var (
		items   []RawItem
		cur     RawItem
		field   string
		text    strings.Builder
		scalars = map[string]string{}
		sawRoot bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DecodeError{Format: "xml", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			sawRoot = true
			if t.Name.Local == "item" && cur == nil {
				cur = make(RawItem)
				field = ""
				continue
			}
			field = t.Name.Local
			text.Reset()
		case xml.CharData:
			if field != "" {
				text.Write(t)
			}
		case xml.EndElement:
			name := t.Name.Local
			if name == "item" && cur != nil {
				items = append(items, cur)
				cur = nil
				continue
			}
			if name != field {
				continue
			}
			value := strings.TrimSpace(text.String())
			if cur != nil {
				if value != "" {
					cur[name] = value
				}
			} else {
				scalars[name] = value
			}
			field = ""
		}
	}

	if !sawRoot {
		return nil, &DecodeError{Format: "xml", Err: errors.New("empty document")}
	}

	page := &PageResult{
		Items:      items,
		ResultCode: scalars["resultCode"],
		ResultMsg:  scalars["resultMsg"],
		TotalCount: atoi(scalars["totalCount"]),
		PageNo:     atoi(scalars["pageNo"]),
		NumOfRows:  atoi(scalars["numOfRows"]),
	}
	if page.ResultCode == "" {
		page.ResultCode = scalars["returnReasonCode"]
		page.ResultMsg = firstNonEmpty(scalars["returnAuthMsg"], scalars["errMsg"])
	}
	return page, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
