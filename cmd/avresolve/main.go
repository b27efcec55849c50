// Command avresolve 把视频番号解析为元数据与可播放的 HLS 地址。
package main

import (
	"fmt"
	"os"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/John-Robertt/avresolve/internal/config"
	"github.com/John-Robertt/avresolve/internal/logx"
)

// app 是一次命令执行共享的已校验配置与 logger。
type app struct {
	cfg config.EffectiveConfig
	log *logrus.Logger
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		a       app
	)
	v := viper.New()

	root := &cobra.Command{
		Use:           "avresolve",
		Short:         "Resolve video codes into metadata and a playable stream",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Setup(v, cfgFile); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logx.Setup(cfg.LogLevel, cfg.LogJSON)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default ./avresolve.yaml or $HOME/.config/avresolve/avresolve.yaml)")
	root.PersistentFlags().String("log-level", "", "Override log.level")
	lo.Must0(v.BindPFlag(config.KeyLogLevel, root.PersistentFlags().Lookup("log-level")))
	root.PersistentFlags().String("store", "", "Override store.driver (sqlite, postgres, memory)")
	lo.Must0(v.BindPFlag(config.KeyStoreDriver, root.PersistentFlags().Lookup("store")))

	root.AddCommand(
		newWorkerCmd(&a),
		newSubmitCmd(&a),
		newResolveCmd(&a),
		newShowCmd(&a),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if code := config.Code(err); code != "" {
			fmt.Fprintf(os.Stderr, "配置错误：%v\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "错误：%v\n", err)
		os.Exit(1)
	}
}
