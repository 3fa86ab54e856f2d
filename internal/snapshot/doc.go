// Package snapshot discovers repositories and hands the update coordinator
// a directory holding one revision of each.
//
// Two providers exist. LocalProvider serves checkouts already on disk; the
// snapshot is the working tree and its SHA is the commit of the requested
// ref, or a content fingerprint when the directory has no git metadata.
// GitHubProvider resolves the ref to a commit through the REST API,
// downloads that commit's tarball and extracts it to a temporary directory
// removed on Close. GitHub calls share a token bucket and back off when the
// reported quota runs low.
package snapshot
