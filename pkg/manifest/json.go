package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// moduleJSON is the wire form of a Module. Digests travel as lowercase hex.
type moduleJSON struct {
	URL          string   `json:"url"`
	SHA256       string   `json:"sha256"`
	DependsOnIDs []string `json:"dependsOnIds,omitempty"`
}

// Serialize encodes the manifest as JSON. The modules object is emitted in
// topological order so that parsers can rely on iteration order.
func Serialize(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"modules":{`)
	for i, id := range m.ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		mod := m.modules[id]
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(moduleJSON{
			URL:          mod.URL,
			SHA256:       mod.SHA256.Hex(),
			DependsOnIDs: mod.DependsOnIDs,
		})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString(`},"mainModuleId":`)
	mainID, err := json.Marshal(m.mainModuleID)
	if err != nil {
		return nil, err
	}
	buf.Write(mainID)
	buf.WriteString(`,"mainFunction":`)
	if m.mainFunction == "" {
		buf.WriteString("null")
	} else {
		fn, err := json.Marshal(m.mainFunction)
		if err != nil {
			return nil, err
		}
		buf.Write(fn)
	}
	buf.WriteString(`,"signatures":{`)
	for i, sig := range m.signatures {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(sig.KeyName)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(sig.HexSig)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

// Parse decodes manifest JSON, preserving the order of the modules object,
// and validates the structural invariants. The modules object must already
// be in topological order.
func Parse(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var (
		entries      []Entry
		mainModuleID string
		mainFunction string
		signatures   []Signature
	)
	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		switch key {
		case "modules":
			entries, err = parseModules(dec)
		case "mainModuleId":
			mainModuleID, err = optionalString(dec)
		case "mainFunction":
			mainFunction, err = optionalString(dec)
		case "signatures":
			signatures, err = parseSignatures(dec)
		default:
			var skip json.RawMessage
			err = dec.Decode(&skip)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}

	ids := make([]string, len(entries))
	deps := make(map[string][]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		deps[e.ID] = e.Module.DependsOnIDs
	}
	if !IsTopologicallySorted(ids, func(id string) []string { return deps[id] }) {
		return nil, fmt.Errorf("%w: modules are not in topological order", ErrMalformedManifest)
	}

	return New(entries, mainModuleID, mainFunction, signatures)
}

func parseModules(dec *json.Decoder) ([]Entry, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var entries []Entry
	for dec.More() {
		id, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		var mj moduleJSON
		if err := dec.Decode(&mj); err != nil {
			return nil, fmt.Errorf("%w: module %q: %v", ErrMalformedManifest, id, err)
		}
		digest, err := ParseDigest(mj.SHA256)
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", id, err)
		}
		entries = append(entries, Entry{
			ID: id,
			Module: Module{
				URL:          mj.URL,
				SHA256:       digest,
				DependsOnIDs: mj.DependsOnIDs,
			},
		})
	}
	return entries, expectDelim(dec, '}')
}

func parseSignatures(dec *json.Decoder) ([]Signature, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var sigs []Signature
	for dec.More() {
		name, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		var hexSig string
		if err := dec.Decode(&hexSig); err != nil {
			return nil, fmt.Errorf("%w: signature %q: %v", ErrMalformedManifest, name, err)
		}
		sigs = append(sigs, Signature{KeyName: name, HexSig: hexSig})
	}
	return sigs, expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return badToken(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrMalformedManifest, want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", badToken(err)
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected string, got %v", ErrMalformedManifest, tok)
	}
	return s, nil
}

func optionalString(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", badToken(err)
	}
	switch v := tok.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("%w: expected string or null, got %v", ErrMalformedManifest, tok)
	}
}

func badToken(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: truncated JSON", ErrMalformedManifest)
	}
	return fmt.Errorf("%w: %v", ErrMalformedManifest, err)
}
