package appid

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"
)

// Default is the identity used when no `.fulmen/app.yaml` can be found, so a
// standalone binary still knows its name, env prefix and config name.
var Default = appidentity.Identity{
	BinaryName:  "fiesta",
	Vendor:      "fiestalabs",
	EnvPrefix:   "FIESTA_",
	ConfigName:  "fiesta",
	Description: "Fan one prompt out to many AI providers and compare the answers",
}

// Get returns the discovered identity, or Default when discovery finds none.
//
// An explicit FULMEN_APP_IDENTITY_PATH remains authoritative: a missing file
// at that path is an error, not a fallback.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	identity, err := appidentity.Get(ctx)
	if err == nil && identity != nil {
		return identity, nil
	}

	var notFound *appidentity.NotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return nil, err
	}
	if strings.TrimSpace(os.Getenv(appidentity.EnvIdentityPath)) != "" {
		if err == nil {
			err = errors.New("app identity not found")
		}
		return nil, err
	}

	fallback := Default
	return &fallback, nil
}
