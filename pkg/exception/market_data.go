package exception

import "github.com/yanun0323/errors"

var (
	ErrAssetNotFound  = errors.New("market: asset not found")
	ErrEmptyUniverse  = errors.New("market: no assets")
	ErrInvalidSpeed   = errors.New("market: speed out of range")
	ErrSnapshotFormat = errors.New("market: snapshot format mismatch")
)
