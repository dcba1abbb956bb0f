package root

import (
	"github.com/zenGate-Global/palmyra-reports/apps/cli/cmd/auth"
	"github.com/zenGate-Global/palmyra-reports/apps/cli/cmd/bootstrap"
	sqlcmd "github.com/zenGate-Global/palmyra-reports/apps/cli/cmd/sql"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(sqlcmd.Command())
}
