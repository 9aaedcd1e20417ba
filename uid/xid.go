package uid

import "fmt"

// Xid is a branch identifier handed to a resource manager:
// (formatId, gtrid, bqual).
type Xid struct {
	FormatID int32
	Gtrid    Uid
	Bqual    []byte
}

func (x Xid) String() string {
	return fmt.Sprintf("Xid{formatId=%d, gtrid=%x, bqual=%x}", x.FormatID, x.Gtrid.Bytes(), x.Bqual)
}
