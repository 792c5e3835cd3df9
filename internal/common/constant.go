// Package common contains shared constants and sentinel errors used across
// pantrysync components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// PendingScheme prefixes image references that point at a locally stored
// blob which has not been uploaded yet.
const PendingScheme = "pending://"
