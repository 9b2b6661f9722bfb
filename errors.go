package wiidisc

import "github.com/wiidisc/wiidisc/internal/wiierr"

// Kind, HashLevel and Error are defined once in internal/wiierr so that
// wuzc, nested under this package, can report failures through the same
// taxonomy instead of its own ad hoc sentinel errors.
type Kind = wiierr.Kind

const (
	KindIO                   = wiierr.KindIO
	KindMalformed            = wiierr.KindMalformed
	KindUnknownPartitionKind = wiierr.KindUnknownPartitionKind
	KindSectionNotFound      = wiierr.KindSectionNotFound
	KindHashVerification     = wiierr.KindHashVerification
	KindUnsupported          = wiierr.KindUnsupported
	KindBuilderError         = wiierr.KindBuilderError
)

type HashLevel = wiierr.HashLevel

const (
	HashLevelH0 = wiierr.HashLevelH0
	HashLevelH1 = wiierr.HashLevelH1
	HashLevelH2 = wiierr.HashLevelH2
	HashLevelH3 = wiierr.HashLevelH3
)

// Error is the error type returned by every operation in this package.
type Error = wiierr.Error

func newIOError(err error) error {
	return wiierr.NewIOError(err)
}

func newMalformedError(msg string) error {
	return wiierr.NewMalformedError(msg)
}

func newMalformedErrorf(format string, args ...interface{}) error {
	return wiierr.NewMalformedErrorf(format, args...)
}

func newUnknownPartitionKindError(tag uint32) error {
	return wiierr.NewUnknownPartitionKindError(tag)
}

func newSectionNotFoundError(kind PartitionKind) error {
	return wiierr.NewSectionNotFoundError(kind.String())
}

func newHashVerificationError(level HashLevel, index int) error {
	return wiierr.NewHashVerificationError(level, index)
}

func newUnsupportedError(msg string) error {
	return wiierr.NewUnsupportedError(msg)
}

func newBuilderError(err error) error {
	return wiierr.NewBuilderError(err)
}
