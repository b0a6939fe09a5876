package fs

import "os"

func iofsAppendFlags() int {
	return os.O_APPEND | os.O_CREATE | os.O_WRONLY
}
