package core

// Version is the version of plex.
const Version = "0.3.0"
