package ledger

// Version is the ledgercache release version.
const Version = "0.3.0"
