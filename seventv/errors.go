package seventv

import "errors"

// Sentinel errors returned by the 7TV client. Business rejections
// (not found, unlisted, already present) are expected outcomes that the
// caller translates into chat notices; ErrAuth and ErrMutation are faults.
var (
	// ErrAuth means no usable bearer token could be obtained or validated.
	ErrAuth = errors.New("seventv: authentication failed")

	// ErrEmoteNotFound means the emote id does not exist on 7TV.
	ErrEmoteNotFound = errors.New("seventv: emote not found")

	// ErrEmoteUnlisted means the emote exists but is not listed.
	ErrEmoteUnlisted = errors.New("seventv: emote is unlisted")

	// ErrAlreadyPresent means the emote id is already in the target set.
	ErrAlreadyPresent = errors.New("seventv: emote already in set")

	// ErrMutation means a set mutation was rejected or failed in transport.
	ErrMutation = errors.New("seventv: mutation failed")
)
