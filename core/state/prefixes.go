package state

var (
	lockboxRecordPrefix = []byte("lockbox/record/")
	lockboxSeqKey       = []byte("lockbox/seq")
	accountPrefix       = []byte("account/")
	vaultPrefix         = []byte("lockbox/vault/")
)
