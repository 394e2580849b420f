// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package signer

import "crypto"

// NewHandleForTesting builds a Handle directly from an in-memory
// crypto.Signer, for use by other packages' tests (the pkcs7 builder's,
// notably) that need a working signing handle without a filesystem or
// PKCS#11 round trip.
func NewHandleForTesting(s crypto.Signer) *Handle {
	return newHandle(s, nil)
}
