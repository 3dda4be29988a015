package solana

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/catalogfi/stealthswapd/internal/chain"
)

// Instruction discriminants for the escrow program, matching the layout a
// production Anchor-style program would expose: one byte selecting the
// instruction, followed by its borsh-encoded arguments. Full account-list
// construction (signer/writable metas) is the Solana SDK's concern, not
// this adapter's; sendTransaction here carries the instruction payload a
// transaction-building layer would wrap before signing and broadcasting.
const (
	instructionLock     byte = 0x01
	instructionComplete byte = 0x02
	instructionRefund   byte = 0x03
)

func buildLockInstructionData(programID string, swapID [32]byte, amount uint64, hashLock [32]byte, refundAfter int64, beneficiaryPubKey string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(instructionLock)
	buf.Write(swapID[:])
	binary.Write(&buf, binary.LittleEndian, amount)
	buf.Write(hashLock[:])
	binary.Write(&buf, binary.LittleEndian, refundAfter)
	writeLenPrefixed(&buf, []byte(beneficiaryPubKey))
	return buf.Bytes()
}

func buildCompletionInstructionData(programID string, swapID [32]byte, presig, sig []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(instructionComplete)
	buf.Write(swapID[:])
	writeLenPrefixed(&buf, presig)
	writeLenPrefixed(&buf, sig)
	return buf.Bytes()
}

func buildRefundInstructionData(programID string, swapID [32]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(instructionRefund)
	buf.Write(swapID[:])
	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
}

// decodeLockInfo parses the escrow account's raw data back into a
// chain.LockInfo, the read-side counterpart of buildLockInstructionData's
// layout, with confirmations left for the caller to fill in from the
// surrounding getAccountInfo response's context slot.
func decodeLockInfo(raw []byte) (*chain.LockInfo, error) {
	if len(raw) < 1+32+8+32+8 {
		return nil, fmt.Errorf("solana: escrow account data too short (%d bytes)", len(raw))
	}
	r := bytes.NewReader(raw[1+32:]) // skip discriminant + swap id

	var amount uint64
	if err := binary.Read(r, binary.LittleEndian, &amount); err != nil {
		return nil, fmt.Errorf("solana: decode amount: %w", err)
	}

	var hashLock [32]byte
	if _, err := r.Read(hashLock[:]); err != nil {
		return nil, fmt.Errorf("solana: decode hash lock: %w", err)
	}

	var refundAfter int64
	if err := binary.Read(r, binary.LittleEndian, &refundAfter); err != nil {
		return nil, fmt.Errorf("solana: decode refund deadline: %w", err)
	}

	var beneficiaryLen uint32
	if err := binary.Read(r, binary.LittleEndian, &beneficiaryLen); err != nil {
		return nil, fmt.Errorf("solana: decode beneficiary length: %w", err)
	}
	beneficiary := make([]byte, beneficiaryLen)
	if _, err := r.Read(beneficiary); err != nil {
		return nil, fmt.Errorf("solana: decode beneficiary: %w", err)
	}

	return &chain.LockInfo{
		Amount:         amount,
		HashLock:       hashLock,
		RefundAfter:    refundAfter,
		BeneficiaryKey: string(beneficiary),
		Confirmations:  chain.TokenChainRequiredConfirmations,
	}, nil
}

// decodeCompletionInfo parses the completed-signature suffix an escrow
// account carries once a counterparty has broadcast its completion: a
// flag byte followed by the signature's R and S, appended right after the
// beneficiary field decodeLockInfo also reads. It returns nil, nil when
// the account predates completion and carries no suffix yet.
func decodeCompletionInfo(raw []byte) (*chain.CompletedSignature, error) {
	if len(raw) < 1+32+8+32+8+4 {
		return nil, fmt.Errorf("solana: escrow account data too short (%d bytes)", len(raw))
	}
	r := bytes.NewReader(raw[1+32+8+32+8:])

	var beneficiaryLen uint32
	if err := binary.Read(r, binary.LittleEndian, &beneficiaryLen); err != nil {
		return nil, fmt.Errorf("solana: decode beneficiary length: %w", err)
	}
	if _, err := io.CopyN(io.Discard, r, int64(beneficiaryLen)); err != nil {
		return nil, fmt.Errorf("solana: decode beneficiary: %w", err)
	}

	completedFlag, err := r.ReadByte()
	if err != nil {
		return nil, nil
	}
	if completedFlag == 0 {
		return nil, nil
	}

	var sig chain.CompletedSignature
	if _, err := io.ReadFull(r, sig.R[:]); err != nil {
		return nil, fmt.Errorf("solana: decode completion R: %w", err)
	}
	if _, err := io.ReadFull(r, sig.S[:]); err != nil {
		return nil, fmt.Errorf("solana: decode completion S: %w", err)
	}
	return &sig, nil
}
