// Package opentimestamps implements the parts of the OpenTimestamps protocol
// this service needs: the binary proof format, calendar submission and
// calendar upgrades.
package opentimestamps

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // sha1 is a proof op, not used for security here
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required by the proof format
	"golang.org/x/crypto/sha3"
)

// Op tags.
const (
	OpSHA1      byte = 0x02
	OpRIPEMD160 byte = 0x03
	OpSHA256    byte = 0x08
	OpKeccak256 byte = 0x67
	OpAppend    byte = 0xf0
	OpPrepend   byte = 0xf1
	OpReverse   byte = 0xf2
	OpHexlify   byte = 0xf3
)

const (
	tagAttestation byte = 0x00
	tagFork        byte = 0xff

	majorVersion = 1

	maxMessageLength = 4096
	maxPayloadLength = 8192
	maxURILength     = 1000
	maxDepth         = 256
)

var headerMagic = []byte("\x00OpenTimestamps\x00\x00Proof\x00\xbf\x89\xe2\xe8\x84\xe8\x92\x94")

var (
	tagBitcoin  = [8]byte{0x05, 0x88, 0x96, 0x0d, 0x73, 0xd7, 0x19, 0x01}
	tagLitecoin = [8]byte{0x06, 0x86, 0x9a, 0x0d, 0x73, 0xd7, 0x1b, 0x45}
	tagPending  = [8]byte{0x83, 0xdf, 0xe3, 0x0d, 0x2e, 0xf9, 0x0c, 0x8e}
)

// ErrMalformed wraps every decoding failure.
var ErrMalformed = errors.New("malformed timestamp proof")

// Op is a single commitment operation. Arg is only set for append/prepend.
type Op struct {
	Tag byte
	Arg []byte
}

func (o Op) equal(other Op) bool {
	return o.Tag == other.Tag && bytes.Equal(o.Arg, other.Arg)
}

func (o Op) hasArg() bool {
	return o.Tag == OpAppend || o.Tag == OpPrepend
}

// Apply computes the message produced by o from msg.
func (o Op) Apply(msg []byte) ([]byte, error) {
	var out []byte
	switch o.Tag {
	case OpAppend:
		out = append(append(make([]byte, 0, len(msg)+len(o.Arg)), msg...), o.Arg...)
	case OpPrepend:
		out = append(append(make([]byte, 0, len(msg)+len(o.Arg)), o.Arg...), msg...)
	case OpReverse:
		if len(msg) == 0 {
			return nil, fmt.Errorf("%w: reverse of empty message", ErrMalformed)
		}
		out = make([]byte, len(msg))
		for i := range msg {
			out[len(msg)-1-i] = msg[i]
		}
	case OpHexlify:
		if len(msg) == 0 {
			return nil, fmt.Errorf("%w: hexlify of empty message", ErrMalformed)
		}
		out = []byte(hex.EncodeToString(msg))
	case OpSHA1:
		sum := sha1.Sum(msg) //nolint:gosec
		out = sum[:]
	case OpRIPEMD160:
		h := ripemd160.New()
		h.Write(msg)
		out = h.Sum(nil)
	case OpSHA256:
		sum := sha256.Sum256(msg)
		out = sum[:]
	case OpKeccak256:
		h := sha3.NewLegacyKeccak256()
		h.Write(msg)
		out = h.Sum(nil)
	default:
		return nil, fmt.Errorf("%w: unknown op 0x%02x", ErrMalformed, o.Tag)
	}
	if len(out) > maxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d bytes", ErrMalformed, maxMessageLength)
	}
	return out, nil
}

func digestLength(tag byte) (int, bool) {
	switch tag {
	case OpSHA1, OpRIPEMD160:
		return 20, true
	case OpSHA256, OpKeccak256:
		return 32, true
	}
	return 0, false
}

// AttestationKind identifies what an attestation commits to.
type AttestationKind int

const (
	AttestationUnknown AttestationKind = iota
	AttestationPending
	AttestationBitcoin
	AttestationLitecoin
)

func (k AttestationKind) String() string {
	switch k {
	case AttestationPending:
		return "pending"
	case AttestationBitcoin:
		return "bitcoin"
	case AttestationLitecoin:
		return "litecoin"
	}
	return "unknown"
}

// Attestation is a leaf claim about the message it is attached to.
type Attestation struct {
	Kind AttestationKind
	// Calendar URI, pending attestations only
	URI string
	// Block height, Bitcoin and Litecoin attestations only
	Height uint64
	// Raw tag and payload, kept so unknown attestations round-trip
	Tag     [8]byte
	Payload []byte
}

func (a Attestation) equal(other Attestation) bool {
	return a.Tag == other.Tag && bytes.Equal(a.Payload, other.Payload)
}

// PendingAttestation builds a pending attestation pointing at a calendar.
func PendingAttestation(uri string) Attestation {
	w := &writer{}
	w.writeVarbytes([]byte(uri))
	return Attestation{Kind: AttestationPending, URI: uri, Tag: tagPending, Payload: w.bytes()}
}

// BitcoinBlockAttestation builds a Bitcoin block-header attestation.
func BitcoinBlockAttestation(height uint64) Attestation {
	w := &writer{}
	w.writeVaruint(height)
	return Attestation{Kind: AttestationBitcoin, Height: height, Tag: tagBitcoin, Payload: w.bytes()}
}

func decodeAttestation(tag [8]byte, payload []byte) (Attestation, error) {
	a := Attestation{Kind: AttestationUnknown, Tag: tag, Payload: payload}
	r := newReader(payload)
	switch tag {
	case tagPending:
		uri, err := r.readVarbytes(maxURILength)
		if err != nil {
			return a, err
		}
		if !validURI(uri) {
			return a, fmt.Errorf("%w: invalid calendar uri", ErrMalformed)
		}
		a.Kind = AttestationPending
		a.URI = string(uri)
	case tagBitcoin, tagLitecoin:
		h, err := r.readVaruint()
		if err != nil {
			return a, err
		}
		a.Kind = AttestationBitcoin
		if tag == tagLitecoin {
			a.Kind = AttestationLitecoin
		}
		a.Height = h
	default:
		return a, nil
	}
	if !r.eof() {
		return a, fmt.Errorf("%w: trailing bytes in attestation payload", ErrMalformed)
	}
	return a, nil
}

func validURI(uri []byte) bool {
	for _, c := range uri {
		ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '.' || c == '-' || c == '_' || c == '/' || c == ':'
		if !ok {
			return false
		}
	}
	return len(uri) > 0
}

// Branch is an operation and the timestamp of its result.
type Branch struct {
	Op        Op
	Timestamp *Timestamp
}

// Timestamp is a proof tree rooted at Msg.
type Timestamp struct {
	Msg          []byte
	Attestations []Attestation
	Branches     []Branch
}

// NewTimestamp returns an empty timestamp for msg.
func NewTimestamp(msg []byte) *Timestamp {
	return &Timestamp{Msg: append([]byte(nil), msg...)}
}

// Add appends op to t and returns the child timestamp, reusing an existing
// branch with the same op.
func (t *Timestamp) Add(op Op) (*Timestamp, error) {
	for _, b := range t.Branches {
		if b.Op.equal(op) {
			return b.Timestamp, nil
		}
	}
	msg, err := op.Apply(t.Msg)
	if err != nil {
		return nil, err
	}
	child := &Timestamp{Msg: msg}
	t.Branches = append(t.Branches, Branch{Op: op, Timestamp: child})
	return child, nil
}

// Attest attaches a to t unless an equal attestation is already present.
func (t *Timestamp) Attest(a Attestation) {
	for _, existing := range t.Attestations {
		if existing.equal(a) {
			return
		}
	}
	t.Attestations = append(t.Attestations, a)
}

// Merge folds other (which must commit to the same message) into t and
// reports whether anything new was added.
func (t *Timestamp) Merge(other *Timestamp) (bool, error) {
	if !bytes.Equal(t.Msg, other.Msg) {
		return false, fmt.Errorf("cannot merge timestamps for different messages")
	}
	changed := false
	for _, a := range other.Attestations {
		before := len(t.Attestations)
		t.Attest(a)
		if len(t.Attestations) != before {
			changed = true
		}
	}
	for _, ob := range other.Branches {
		merged := false
		for _, b := range t.Branches {
			if b.Op.equal(ob.Op) {
				c, err := b.Timestamp.Merge(ob.Timestamp)
				if err != nil {
					return changed, err
				}
				changed = changed || c
				merged = true
				break
			}
		}
		if !merged {
			t.Branches = append(t.Branches, ob)
			changed = true
		}
	}
	return changed, nil
}

// AttestationAt is an attestation found while walking a tree, together
// with the node it is attached to.
type AttestationAt struct {
	Attestation Attestation
	Node        *Timestamp
	// Bitcoin attestations only: txid of the transaction on the path, if any
	TxID string
}

// PendingAttestations returns every pending calendar attestation in t.
func (t *Timestamp) PendingAttestations() []AttestationAt {
	var out []AttestationAt
	t.walk("", false, func(node *Timestamp, a Attestation, _ string) {
		if a.Kind == AttestationPending {
			out = append(out, AttestationAt{Attestation: a, Node: node})
		}
	})
	return out
}

// BitcoinAttestations returns every Bitcoin block attestation in t.
func (t *Timestamp) BitcoinAttestations() []AttestationAt {
	var out []AttestationAt
	t.walk("", false, func(node *Timestamp, a Attestation, txid string) {
		if a.Kind == AttestationBitcoin {
			out = append(out, AttestationAt{Attestation: a, Node: node, TxID: txid})
		}
	})
	return out
}

// walk visits every attestation depth-first. txid is the id of the last
// Bitcoin transaction seen on the path: a message longer than a merkle node
// (64 bytes) hashed twice with sha256, displayed byte-reversed.
// afterTxHash is set when t was reached by hashing such a message once.
func (t *Timestamp) walk(txid string, afterTxHash bool, visit func(*Timestamp, Attestation, string)) {
	for _, a := range t.Attestations {
		visit(t, a, txid)
	}
	for _, b := range t.Branches {
		childTxID, childAfter := txid, false
		if b.Op.Tag == OpSHA256 {
			if afterTxHash {
				childTxID = reversedHex(b.Timestamp.Msg)
			}
			childAfter = len(t.Msg) > 64
		}
		b.Timestamp.walk(childTxID, childAfter, visit)
	}
}

func reversedHex(b []byte) string {
	r := make([]byte, len(b))
	for i := range b {
		r[len(b)-1-i] = b[i]
	}
	return hex.EncodeToString(r)
}

// Serialize encodes t in the OpenTimestamps binary format.
func (t *Timestamp) Serialize() ([]byte, error) {
	w := &writer{}
	if err := t.serialize(w); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

func (t *Timestamp) serialize(w *writer) error {
	if len(t.Attestations) == 0 && len(t.Branches) == 0 {
		return errors.New("an empty timestamp can't be serialized")
	}

	for i, a := range t.Attestations {
		last := i == len(t.Attestations)-1 && len(t.Branches) == 0
		if !last {
			w.writeByte(tagFork)
		}
		w.writeByte(tagAttestation)
		w.write(a.Tag[:])
		w.writeVarbytes(a.Payload)
	}

	for i, b := range t.Branches {
		if i != len(t.Branches)-1 {
			w.writeByte(tagFork)
		}
		w.writeByte(b.Op.Tag)
		if b.Op.hasArg() {
			w.writeVarbytes(b.Op.Arg)
		}
		if err := b.Timestamp.serialize(w); err != nil {
			return err
		}
	}
	return nil
}

// ParseTimestamp decodes a serialized timestamp committing to msg, as
// returned by a calendar server.
func ParseTimestamp(data, msg []byte) (*Timestamp, error) {
	r := newReader(data)
	t, err := parseTimestamp(r, msg, 0)
	if err != nil {
		return nil, err
	}
	if !r.eof() {
		return nil, fmt.Errorf("%w: trailing bytes after timestamp", ErrMalformed)
	}
	return t, nil
}

func parseTimestamp(r *reader, msg []byte, depth int) (*Timestamp, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: recursion limit reached", ErrMalformed)
	}
	t := &Timestamp{Msg: msg}

	tag, err := r.readByte()
	if err != nil {
		return nil, err
	}
	for tag == tagFork {
		next, err := r.readByte()
		if err != nil {
			return nil, err
		}
		if err := t.parseTagOrAttestation(r, next, depth); err != nil {
			return nil, err
		}
		if tag, err = r.readByte(); err != nil {
			return nil, err
		}
	}
	if err := t.parseTagOrAttestation(r, tag, depth); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Timestamp) parseTagOrAttestation(r *reader, tag byte, depth int) error {
	if tag == tagAttestation {
		raw, err := r.readBytes(8)
		if err != nil {
			return err
		}
		var atag [8]byte
		copy(atag[:], raw)
		payload, err := r.readVarbytes(maxPayloadLength)
		if err != nil {
			return err
		}
		a, err := decodeAttestation(atag, payload)
		if err != nil {
			return err
		}
		t.Attestations = append(t.Attestations, a)
		return nil
	}

	op := Op{Tag: tag}
	if op.hasArg() {
		arg, err := r.readVarbytes(maxMessageLength)
		if err != nil {
			return err
		}
		if len(arg) == 0 {
			return fmt.Errorf("%w: empty op argument", ErrMalformed)
		}
		op.Arg = arg
	}
	next, err := op.Apply(t.Msg)
	if err != nil {
		return err
	}
	child, err := parseTimestamp(r, next, depth+1)
	if err != nil {
		return err
	}
	t.Branches = append(t.Branches, Branch{Op: op, Timestamp: child})
	return nil
}

// DetachedTimestamp is a complete .ots file: the file digest and its proof.
type DetachedTimestamp struct {
	HashOp    byte
	Digest    []byte
	Timestamp *Timestamp
}

// NewDetached wraps a timestamp for a SHA-256 file digest.
func NewDetached(digest []byte, t *Timestamp) *DetachedTimestamp {
	return &DetachedTimestamp{HashOp: OpSHA256, Digest: append([]byte(nil), digest...), Timestamp: t}
}

// Serialize encodes d as a detached .ots file.
func (d *DetachedTimestamp) Serialize() ([]byte, error) {
	w := &writer{}
	w.write(headerMagic)
	w.writeVaruint(majorVersion)
	w.writeByte(d.HashOp)
	w.write(d.Digest)
	if err := d.Timestamp.serialize(w); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

// ParseDetached decodes a detached .ots file.
func ParseDetached(data []byte) (*DetachedTimestamp, error) {
	r := newReader(data)
	magic, err := r.readBytes(len(headerMagic))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, headerMagic) {
		return nil, fmt.Errorf("%w: bad magic header", ErrMalformed)
	}
	version, err := r.readVaruint()
	if err != nil {
		return nil, err
	}
	if version != majorVersion {
		return nil, fmt.Errorf("%w: unsupported major version %d", ErrMalformed, version)
	}
	hashOp, err := r.readByte()
	if err != nil {
		return nil, err
	}
	n, ok := digestLength(hashOp)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported file hash op 0x%02x", ErrMalformed, hashOp)
	}
	digest, err := r.readBytes(n)
	if err != nil {
		return nil, err
	}
	t, err := parseTimestamp(r, digest, 0)
	if err != nil {
		return nil, err
	}
	if !r.eof() {
		return nil, fmt.Errorf("%w: trailing bytes after timestamp", ErrMalformed)
	}
	return &DetachedTimestamp{HashOp: hashOp, Digest: digest, Timestamp: t}, nil
}
