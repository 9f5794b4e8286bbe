package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/appkg/internal/domain/declaration"
)

// Codec turns declarations into bytes for one reserved container entry and back.
type Codec interface {
	// Name is the short format name used in configuration ("yaml", "cbor").
	Name() string
	// EntryName is the reserved archive entry that holds the encoded declaration.
	EntryName() string
	// Encode serializes the declaration.
	Encode(d *declaration.Declaration) ([]byte, error)
	// Decode parses bytes produced by Encode. Errors wrap ErrDecode.
	Decode(data []byte) (*declaration.Declaration, error)
}

var (
	// YAML is the default, human-readable declaration codec.
	//
	//nolint:gochecknoglobals // Stateless codec singleton.
	YAML Codec = yamlCodec{}
	// CBOR is the compact, deterministic declaration codec.
	//
	//nolint:gochecknoglobals // Stateless codec singleton.
	CBOR Codec = newCBORCodec()

	errUnknownCodec = errors.New("unknown declaration format")
)

// All returns every known codec in the order readers probe them.
func All() []Codec {
	return []Codec{YAML, CBOR}
}

// Lookup returns the codec with the given name.
//
//nolint:ireturn // Codec is the abstraction callers work with.
func Lookup(name string) (Codec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range All() {
		if c.Name() == name {
			return c, nil
		}
	}

	return nil, fmt.Errorf("%q: %w", name, errUnknownCodec)
}

// ForEntry returns the codec that owns the reserved entry name, if any.
//
//nolint:ireturn // Codec is the abstraction callers work with.
func ForEntry(entryName string) (Codec, bool) {
	for _, c := range All() {
		if c.EntryName() == entryName {
			return c, true
		}
	}

	return nil, false
}

// IsReserved reports whether an archive entry name belongs to container bookkeeping.
func IsReserved(entryName string) bool {
	return strings.HasPrefix(entryName, declaration.ReservedPrefix)
}

type yamlCodec struct{}

func (yamlCodec) Name() string { return "yaml" }

func (yamlCodec) EntryName() string { return declaration.ReservedPrefix + "declaration.yaml" }

func (yamlCodec) Encode(d *declaration.Declaration) ([]byte, error) {
	var buf bytes.Buffer

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)

	if err := encoder.Encode(toDocument(d)); err != nil {
		return nil, fmt.Errorf("encode yaml declaration: %w", err)
	}

	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml declaration: %w", err)
	}

	return buf.Bytes(), nil
}

func (yamlCodec) Decode(data []byte) (*declaration.Declaration, error) {
	var doc document

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: yaml: %w", ErrDecode, err)
	}

	return fromDocument(&doc)
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// newCBORCodec configures Core Deterministic Encoding so the same declaration
// always produces identical bytes.
func newCBORCodec() cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	dec, err := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}

	return cborCodec{
		enc: enc,
		dec: dec,
	}
}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) EntryName() string { return declaration.ReservedPrefix + "declaration.cbor" }

func (c cborCodec) Encode(d *declaration.Declaration) ([]byte, error) {
	data, err := c.enc.Marshal(toDocument(d))
	if err != nil {
		return nil, fmt.Errorf("encode cbor declaration: %w", err)
	}

	return data, nil
}

func (c cborCodec) Decode(data []byte) (*declaration.Declaration, error) {
	var doc document
	if err := c.dec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: cbor: %w", ErrDecode, err)
	}

	return fromDocument(&doc)
}
