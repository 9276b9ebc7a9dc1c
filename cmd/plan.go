package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mfallas/mpcdispatch/config"
	"github.com/mfallas/mpcdispatch/core/model"
	"github.com/mfallas/mpcdispatch/core/optimizer"
	"github.com/mfallas/mpcdispatch/infra/logger"
)

var (
	planSoC    float64
	planLoadKW float64
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Solve one horizon offline and print the schedule",
	RunE:  plan,
}

func init() {
	planCmd.Flags().Float64Var(&planSoC, "soc", -1, "initial state of charge (defaults to the configured value)")
	planCmd.Flags().Float64Var(&planLoadKW, "load-kw", 0, "flat load assumption (defaults to the fallback load)")
	rootCmd.AddCommand(planCmd)
}

// plan runs a single solve against flat inputs. Useful for checking a
// tariff or battery configuration without the reporter and BMS services.
func plan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	params := cfg.HorizonParameters()
	engine, err := optimizer.New(params, cfg.Tariff, logger.New("plan"))
	if err != nil {
		return err
	}

	soc := planSoC
	if soc < 0 {
		soc = cfg.Battery.InitialSoC
	}
	loadKW := planLoadKW
	if loadKW <= 0 {
		loadKW = cfg.Service.FallbackLoadKW
	}

	now := time.Now()
	load := make([]float64, params.Steps)
	solar := make([]float64, params.Steps)
	timestamps := make([]time.Time, params.Steps)
	for i := range load {
		load[i] = loadKW
		timestamps[i] = now.Add(time.Duration(i) * cfg.Horizon.Step())
	}

	res, err := engine.Optimize(soc, load, solar, timestamps)
	if err != nil {
		return err
	}
	out := model.Schedule{
		Timestamp:      now,
		HorizonHours:   params.HorizonHours(),
		BatteryPowerKW: res.BatteryPowerKW,
		GridPowerKW:    res.GridPowerKW,
		SoC:            res.SoC,
		PeakDemandKW:   res.PeakDemandKW,
		TotalCost:      res.TotalCost,
		EnergyCost:     res.EnergyCost,
		DemandCost:     res.DemandCost,
		SolverStatus:   res.Status.String(),
		SolverTimeSecs: res.SolveTime.Seconds(),
	}
	enc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}
