package state

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// DiscriminatorLen is the size of the type tag that prefixes every persisted
// record.
const DiscriminatorLen = 8

var ErrInvalidDiscriminator = errors.New("invalid record discriminator")

var (
	registrarDiscriminator            = discriminator("Registrar")
	voterDiscriminator                = discriminator("Voter")
	voterWeightRecordDiscriminator    = discriminator("VoterWeightRecord")
	maxVoterWeightRecordDiscriminator = discriminator("MaxVoterWeightRecord")
)

func discriminator(name string) [DiscriminatorLen]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorLen]byte
	copy(d[:], sum[:DiscriminatorLen])
	return d
}

func marshal(d [DiscriminatorLen]byte, v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(d[:])
	if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshal(d [DiscriminatorLen]byte, data []byte, v any) error {
	if len(data) < DiscriminatorLen || !bytes.Equal(data[:DiscriminatorLen], d[:]) {
		return ErrInvalidDiscriminator
	}
	if err := bin.NewBorshDecoder(data[DiscriminatorLen:]).Decode(v); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

func (r *Registrar) MarshalBinary() ([]byte, error) {
	return marshal(registrarDiscriminator, *r)
}

func (r *Registrar) UnmarshalBinary(data []byte) error {
	return unmarshal(registrarDiscriminator, data, r)
}

func (v *Voter) MarshalBinary() ([]byte, error) {
	return marshal(voterDiscriminator, *v)
}

func (v *Voter) UnmarshalBinary(data []byte) error {
	return unmarshal(voterDiscriminator, data, v)
}

func (r *VoterWeightRecord) MarshalBinary() ([]byte, error) {
	return marshal(voterWeightRecordDiscriminator, *r)
}

func (r *VoterWeightRecord) UnmarshalBinary(data []byte) error {
	return unmarshal(voterWeightRecordDiscriminator, data, r)
}

func (r *MaxVoterWeightRecord) MarshalBinary() ([]byte, error) {
	return marshal(maxVoterWeightRecordDiscriminator, *r)
}

func (r *MaxVoterWeightRecord) UnmarshalBinary(data []byte) error {
	return unmarshal(maxVoterWeightRecordDiscriminator, data, r)
}
