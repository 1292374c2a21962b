package template

import "testing"

func TestRenderDotPath(t *testing.T) {
	data := []byte(`{"user":{"name":"ada","tags":["x","y"]},"count":3}`)

	out, err := Render("hello {{user.name}}, count=${count}, tag=${user.tags.0}", data, false)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "hello ada, count=3, tag=x" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderMissingPathNonStrict(t *testing.T) {
	data := []byte(`{"a":1}`)

	out, err := Render("value={{missing.path}}", data, false)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "value={{missing.path}}" {
		t.Fatalf("expected literal placeholder to survive, got %q", out)
	}
}

func TestRenderMissingPathStrict(t *testing.T) {
	data := []byte(`{"a":1}`)

	_, err := Render("value={{missing.path}}", data, true)
	if err == nil {
		t.Fatal("expected error in strict mode")
	}
	var mpe *MissingPathError
	if !asMissingPathError(err, &mpe) {
		t.Fatalf("expected MissingPathError, got %T: %v", err, err)
	}
}

func asMissingPathError(err error, target **MissingPathError) bool {
	if mpe, ok := err.(*MissingPathError); ok {
		*target = mpe
		return true
	}
	return false
}

func TestRenderIdempotent(t *testing.T) {
	data := []byte(`{"a":"b"}`)

	first, err := Render("static text, no placeholders", data, false)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if HasPlaceholders(first) {
		t.Fatalf("unexpected placeholders in %q", first)
	}

	second, err := Render(first, data, false)
	if err != nil {
		t.Fatalf("Render second pass: %v", err)
	}
	if second != first {
		t.Fatalf("re-applying Render should be a no-op: %q != %q", second, first)
	}
}

func TestExtractAttachments(t *testing.T) {
	data := []byte(`{"files":[{"data":"aGVsbG8=","mimeType":"text/plain","filename":"a.txt"},{"mimeType":"image/png"}]}`)

	atts, err := ExtractAttachments(data, AttachmentConfig{ArrayKey: "files"})
	if err != nil {
		t.Fatalf("ExtractAttachments: %v", err)
	}
	if len(atts) != 1 {
		t.Fatalf("expected 1 attachment (second has no data), got %d", len(atts))
	}
	if string(atts[0].Data) != "hello" {
		t.Fatalf("got data %q", atts[0].Data)
	}
	if atts[0].MimeType != "text/plain" {
		t.Fatalf("got mime %q", atts[0].MimeType)
	}
}
