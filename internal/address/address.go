// Package address derives deterministic record addresses from a domain tag and
// an ordered list of key parts.
package address

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/punchamoorthee/faktor/internal/domain"
)

const (
	TagPayment     = "payment"
	TagTransferLog = "transfer_log"
	TagInvoice     = "invoice"
	TagTreasury    = "treasury"
)

// Derive hashes tag and parts into an address. Every part is length-prefixed so
// ("ab","c") and ("a","bc") never collide.
func Derive(tag string, parts ...string) domain.Address {
	h := sha256.New()
	var lenBuf [8]byte
	for _, p := range append([]string{tag}, parts...) {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write([]byte(p))
	}
	return domain.Address(hex.EncodeToString(h.Sum(nil)))
}

func Payment(idempotencyKey, debtor, creditor string) domain.Address {
	return Derive(TagPayment, idempotencyKey, debtor, creditor)
}

// TransferLog keys a log entry by the slot it consumed, not by wall-clock time.
func TransferLog(payment domain.Address, slot int64) domain.Address {
	return Derive(TagTransferLog, string(payment), strconv.FormatInt(slot, 10))
}

func Invoice(creditor, debtor string) domain.Address {
	return Derive(TagInvoice, creditor, debtor)
}

func Treasury() domain.Address {
	return Derive(TagTreasury)
}
