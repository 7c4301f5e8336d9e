// Copyright 2026 Chainguard, Inc.
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

package cli

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chainguard-dev/clog/slag"
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"sigs.k8s.io/release-utils/version"

	"chainguard.dev/repoclosure/pkg/apk/apk"
)

func New() *cobra.Command {
	var (
		quiet   bool
		verbose int
	)

	cmd := &cobra.Command{
		Use:               "repoclosure",
		Short:             "Report packages whose dependencies cannot be satisfied within a set of apk repositories",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := http.DefaultTransport.(*apk.UserAgentTransport); !ok {
				http.DefaultTransport = &apk.UserAgentTransport{
					UserAgent: fmt.Sprintf("repoclosure/%s", version.GetVersionInfo().GitVersion),
					Transport: http.DefaultTransport,
				}
			}

			level := slag.Level(slog.LevelInfo)
			switch {
			case quiet:
				level = slag.Level(slog.LevelError)
			case verbose == 1:
				level = slag.Level(slog.LevelDebug)
			case verbose > 1:
				level = slag.Level(slog.LevelDebug - 1)
			}
			slog.SetDefault(slog.New(charmlog.NewWithOptions(cmd.ErrOrStderr(), charmlog.Options{
				ReportTimestamp: true,
				Level:           charmlog.Level(level),
			})))
			return nil
		},
	}

	cmd.AddCommand(check())
	cmd.AddCommand(packages())
	cmd.AddCommand(version.Version())

	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")
	cmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "log more information (can be specified twice)")
	return cmd
}
