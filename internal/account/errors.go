package account

import "errors"

var (
	// ErrDelivery is returned when the remote channel refuses to send a code.
	ErrDelivery = errors.New("account: challenge could not be delivered")

	// ErrVerification is returned for a wrong, expired or exhausted code.
	ErrVerification = errors.New("account: verification failed")

	// ErrProfileWrite is returned when the remote profile write fails.
	ErrProfileWrite = errors.New("account: profile write failed")

	// ErrSessionInvalid is reported after the identity provider rejected the
	// session and the manager signed out.
	ErrSessionInvalid = errors.New("account: session expired")

	// ErrProfileAmbiguous means the remote had no profile row although the
	// cache did. It is retried before it is ever surfaced.
	ErrProfileAmbiguous = errors.New("account: profile visibility not yet confirmed")

	// ErrProfileUnverified is the user-facing "could not verify profile,
	// retry" condition carried by a Degraded snapshot.
	ErrProfileUnverified = errors.New("account: could not verify profile")

	// ErrNoSession is returned by operations that need a signed-in identity.
	ErrNoSession = errors.New("account: no active session")

	// ErrBusy is returned when a verification is already in progress.
	ErrBusy = errors.New("account: another sign-in is in progress")
)
