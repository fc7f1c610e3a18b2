package client

import "errors"

// ErrRejected marks a chunk the receiver refused for a reason other than
// credentials, path safety or decryption. It is not retried.
var ErrRejected = errors.New("rejected by receiver")
