package logging

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

func stackText(err error) string {
	st := errors.GetReportableStackTrace(err)
	if st == nil || len(st.Frames) == 0 {
		return ""
	}
	var sb strings.Builder
	// frames are ordered outermost call first
	for i := len(st.Frames) - 1; i >= 0; i-- {
		f := st.Frames[i]
		fmt.Fprintf(&sb, "at %s in %s:%d\n", f.Function, f.AbsPath, f.Lineno)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
