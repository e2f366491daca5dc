package escrow

// Platform commission rates, in percent. The platform keeps half of the very
// first paid session between a trainer/parent pair and a quarter of every
// session after that. Whether a session is a repeat is decided by the booking
// collaborator (it counts prior completed, paid bookings for the pair) and
// passed in, keeping the calculator pure.
const (
	FirstSessionPlatformPct  = 50
	RepeatSessionPlatformPct = 25
)

// CommissionSplit computes the platform/trainer split for a total amount in
// cents. The platform fee is rounded half-up to the nearest cent; any
// remainder cent goes to the trainer so that
// platformFee + trainerAmount == totalAmount holds exactly.
func CommissionSplit(totalAmount int64, repeatSession bool) (platformFee, trainerAmount int64) {
	pct := int64(FirstSessionPlatformPct)
	if repeatSession {
		pct = RepeatSessionPlatformPct
	}

	platformFee = (totalAmount*pct + 50) / 100
	trainerAmount = totalAmount - platformFee
	return platformFee, trainerAmount
}

// SplitTrainerAmount halves a trainer amount for a split dispute resolution,
// rounding half-up to the nearest cent.
func SplitTrainerAmount(trainerAmount int64) int64 {
	return (trainerAmount + 1) / 2
}
