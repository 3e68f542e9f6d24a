package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"layerpaper/internal/config"
	"layerpaper/internal/ipc"
)

func send(cmd *cobra.Command, r ipc.Request) error {
	path, err := ipc.SocketPath()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), ipc.RequestTimeout)
	defer cancel()

	reply, err := ipc.Send(ctx, path, r)
	if err != nil {
		return err
	}
	if reply != "" {
		fmt.Fprintln(cmd.OutOrStdout(), reply)
	}
	return nil
}

func createWallpaperCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " MONITOR,[fit:]PATH",
		Short: short,
		Long: `MONITOR is an output name, desc:<description prefix>, or empty / * for every output.
fit is one of cover, contain, tile or stretch (alias fill).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ipc.ParseMessage(name + " " + args[0])
			if err != nil {
				return err
			}
			if r.Path, err = filepath.Abs(config.ExpandHome(r.Path)); err != nil {
				return err
			}
			return send(cmd, r)
		},
	}
}

func createPathCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " PATH",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if name == ipc.CmdPreload || (path != "all" && path != "unused") {
				abs, err := filepath.Abs(config.ExpandHome(path))
				if err != nil {
					return err
				}
				path = abs
			}
			return send(cmd, ipc.Request{Command: name, Path: path})
		},
	}
}

func createListCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, ipc.Request{Command: name})
		},
	}
}
