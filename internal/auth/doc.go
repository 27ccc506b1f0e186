// Package auth handles the bearer tokens shared by labctl and the relay
// server.
//
// Client side, a TokenStore keeps the access and refresh tokens in a small
// YAML file (by default ~/.config/labdash/tokens.yaml). The relay dialer only
// asks it whether a plausible access token is present; login and refresh
// flows live outside this module.
//
// Server side, ParseToken verifies HS256 tokens signed with the configured
// secret and IssueToken mints them for operators and tests.
package auth
