package version

import (
	"fmt"

	"github.com/alvarorichard/goanime-server/internal/linkcache"
)

const (
	Version = "1.5"
)

func ShowVersion(binary string) {
	fmt.Printf("%s v%s", binary, Version)
	if linkcache.IsCgoEnabled {
		fmt.Println(" (json and sqlite link cache)")
	} else {
		fmt.Println(" (json link cache only)")
	}
}
