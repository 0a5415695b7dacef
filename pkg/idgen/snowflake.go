package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/bwmarrin/snowflake"
	log "github.com/sirupsen/logrus"
)

// ============================================================================
// Snowflake identifiers
// ============================================================================
//
// Ledger rows must be totally ordered per account. Snowflake ids carry a
// millisecond timestamp, the worker id and an in-millisecond sequence, so two
// ids generated by the same worker always compare in creation order.
//
//   0 - 41 bit timestamp - 10 bit worker - 12 bit sequence
//
// The numeric id is stored in the `seq` column and used for ordering; the
// prefixed string form is the public identifier.
// ============================================================================

const epoch = int64(1704067200000) // 2024-01-01 00:00:00 UTC

// codeAlphabet omits 0/O and 1/I so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	node *snowflake.Node
	once sync.Once
)

// Init sets up the default generator for the given worker (0-1023).
func Init(workerID int64) {
	once.Do(func() {
		snowflake.Epoch = epoch
		n, err := snowflake.NewNode(workerID)
		if err != nil {
			log.WithError(err).WithField("worker_id", workerID).Fatal("invalid snowflake worker id")
		}
		node = n
	})
}

// NextID returns the next numeric id. Without an earlier Init it runs as worker 1.
func NextID() int64 {
	Init(1)
	return node.Generate().Int64()
}

// GenerateAccountID returns a new account id, e.g. ACC1790393872129200128.
func GenerateAccountID() string {
	return fmt.Sprintf("ACC%d", NextID())
}

// GenerateTransactionNo returns a transaction id together with its ordering key.
func GenerateTransactionNo() (string, int64) {
	id := NextID()
	return fmt.Sprintf("TXN%d", id), id
}

// GenerateRedemptionNo returns a new redemption id.
func GenerateRedemptionNo() string {
	return fmt.Sprintf("RDM%d", NextID())
}

// GenerateCouponCode returns a coupon code in the LOYALTY-XXXXXXXX format.
func GenerateCouponCode() string {
	return "LOYALTY-" + RandomCode(8)
}

// GenerateReferralCode returns an 8 character referral code.
func GenerateReferralCode() string {
	return RandomCode(8)
}

// RandomCode returns n characters drawn from codeAlphabet using crypto/rand.
func RandomCode(n int) string {
	max := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			log.WithError(err).Fatal("crypto/rand unavailable")
		}
		b[i] = codeAlphabet[v.Int64()]
	}
	return string(b)
}
