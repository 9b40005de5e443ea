//go:build windows

// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package keystore

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sys/windows"
)

// envAllowInsecureKeyPerms skips the ACL check when set to "true"
const envAllowInsecureKeyPerms = "AUTORANKER_ALLOW_INSECURE_KEY_PERMS"

// Trustees that must not be granted access to a key file
var insecureTrustees = map[string]string{
	"WD":           "Everyone",
	"S-1-1-0":      "Everyone",
	"BU":           "BUILTIN\\Users",
	"S-1-5-32-545": "BUILTIN\\Users",
	"AU":           "Authenticated Users",
	"S-1-5-11":     "Authenticated Users",
}

func checkOpenFilePermissions(f *os.File) error {
	if strings.EqualFold(os.Getenv(envAllowInsecureKeyPerms), "true") {
		slog.Warn(
			"key file ACL check bypassed",
			"path", f.Name(),
			"env_var", envAllowInsecureKeyPerms,
		)
		return nil
	}
	sd, err := windows.GetSecurityInfo(
		windows.Handle(f.Fd()),
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION,
	)
	if err != nil {
		return fmt.Errorf("failed to get security info for %q: %w", f.Name(), err)
	}
	return checkDACL(f.Name(), sd.String())
}

// checkDACL walks the allow entries of an SDDL string
func checkDACL(path string, sddl string) error {
	idx := strings.Index(sddl, "D:")
	if idx < 0 {
		return fmt.Errorf(
			"key file %q has no DACL: %w",
			path,
			ErrInsecureFileMode,
		)
	}
	dacl := sddl[idx+2:]
	if end := strings.Index(dacl, "S:"); end >= 0 {
		dacl = dacl[:end]
	}
	for _, ace := range strings.Split(dacl, "(") {
		ace = strings.TrimSuffix(ace, ")")
		// type;flags;rights;object;inherit;trustee
		fields := strings.Split(ace, ";")
		if len(fields) < 6 || fields[0] != "A" {
			continue
		}
		if name, ok := insecureTrustees[fields[5]]; ok {
			return fmt.Errorf(
				"key file %q grants access to %s: %w",
				path,
				name,
				ErrInsecureFileMode,
			)
		}
	}
	return nil
}
