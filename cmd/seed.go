package main

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/portfolio-chat/internal/store"
)

var seedFile string

// seedFixture is the YAML layout accepted by the seed command.
type seedFixture struct {
	Users      []store.User            `yaml:"users"`
	Portfolios []store.PortfolioRecord `yaml:"portfolios"`
	Agents     []store.AgentRecord     `yaml:"agents"`
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load users, portfolios and agents from a YAML fixture",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		f, err := os.Open(seedFile)
		if err != nil {
			return eris.Wrap(err, "open seed file")
		}
		defer f.Close() //nolint:errcheck

		fx, err := parseSeed(f)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		return applySeed(ctx, st, fx)
	},
}

func parseSeed(r io.Reader) (*seedFixture, error) {
	var fx seedFixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil {
		return nil, eris.Wrap(err, "parse seed file")
	}
	return &fx, nil
}

// applySeed writes users before portfolios and portfolios before agents so
// foreign keys resolve.
func applySeed(ctx context.Context, st store.Store, fx *seedFixture) error {
	for _, u := range fx.Users {
		if err := st.SaveUser(ctx, u); err != nil {
			return eris.Wrapf(err, "seed user %s", u.ID)
		}
	}
	for _, p := range fx.Portfolios {
		if err := st.SavePortfolio(ctx, p); err != nil {
			return eris.Wrapf(err, "seed portfolio %s", p.ID)
		}
	}
	for _, a := range fx.Agents {
		if err := st.SaveAgent(ctx, a); err != nil {
			return eris.Wrapf(err, "seed agent %s", a.ID)
		}
	}

	zap.L().Info("seed complete",
		zap.Int("users", len(fx.Users)),
		zap.Int("portfolios", len(fx.Portfolios)),
		zap.Int("agents", len(fx.Agents)),
	)
	return nil
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "YAML fixture path")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}
