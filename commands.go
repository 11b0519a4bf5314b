package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nearchat/config"
	"nearchat/discovery"
	"nearchat/friends"
	"nearchat/logging"
	"nearchat/models"
	"nearchat/radar"
	"nearchat/storage"
	"nearchat/ui"
)

var (
	profileNameFlag  string
	discoverableFlag bool
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Create or inspect profiles",
}

var profileInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the local profile (or update its display name)",
	Args:  cobra.NoArgs,
	RunE:  runProfileInit,
}

var profileShowCmd = &cobra.Command{
	Use:   "show [user-id]",
	Short: "Show the local profile, or another user's",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProfileShow,
}

var radarCmd = &cobra.Command{
	Use:   "radar",
	Short: "Show nearby people on a radar and send friend requests",
	Long: `Starts proximity discovery and shows each nearby user on an animated
radar. Move the cursor with the arrow keys (tab jumps between peers) and
press enter on a peer to send a friend request.`,
	Args: cobra.NoArgs,
	RunE: runRadar,
}

var advertiseCmd = &cobra.Command{
	Use:   "advertise",
	Short: "Stay discoverable until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runAdvertise,
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Manage friend requests",
}

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending friend requests, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRequestsList,
}

var requestsSendCmd = &cobra.Command{
	Use:   "send <user-id>",
	Short: "Send a friend request",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequestsSend,
}

var requestsAcceptCmd = &cobra.Command{
	Use:   "accept <sender-user-id>",
	Short: "Accept a pending friend request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveRequest(cmd, args[0], true)
	},
}

var requestsRejectCmd = &cobra.Command{
	Use:   "reject <sender-user-id>",
	Short: "Reject a pending friend request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveRequest(cmd, args[0], false)
	},
}

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "Inspect your friends",
}

var friendsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your friends",
	Args:  cobra.NoArgs,
	RunE:  runFriendsList,
}

func init() {
	profileInitCmd.Flags().StringVar(&profileNameFlag, "name", "", "Display name")
	profileCmd.AddCommand(profileInitCmd, profileShowCmd)

	radarCmd.Flags().BoolVar(&discoverableFlag, "discoverable", false, "Also advertise your profile while the radar is open")

	requestsCmd.AddCommand(requestsListCmd, requestsSendCmd, requestsAcceptCmd, requestsRejectCmd)
	friendsCmd.AddCommand(friendsListCmd)
}

func runProfileInit(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	if name := strings.TrimSpace(profileNameFlag); name != "" {
		a.cfg.DisplayName = name
	}
	if !a.cfg.SignedIn() {
		a.cfg.UserID = config.NewUserID()
		a.cfg.ShareableID = config.NewShareableID()
	}
	if err := config.Save(a.cfgPath, a.cfg); err != nil {
		return err
	}

	profile := models.UserProfile{
		UserID:      a.cfg.UserID,
		DisplayName: a.cfg.DisplayName,
		ShareableID: a.cfg.ShareableID,
	}
	if err := a.store.UpsertProfile(cmd.Context(), profile); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	fmt.Printf("User ID:       %s\n", profile.UserID)
	fmt.Printf("Display Name:  %s\n", profile.DisplayName)
	fmt.Printf("Shareable ID:  %s\n", profile.ShareableID)
	fmt.Printf("Config File:   %s\n", a.cfgPath)
	return nil
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	userID := a.cfg.UserID
	if len(args) == 1 {
		userID = args[0]
	} else if err := a.requireIdentity(); err != nil {
		return err
	}

	profile, err := a.store.GetProfile(cmd.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no profile for user %q", userID)
	}
	if err != nil {
		return err
	}

	fmt.Printf("User ID:       %s\n", profile.UserID)
	fmt.Printf("Display Name:  %s\n", profile.DisplayName)
	fmt.Printf("Shareable ID:  %s\n", profile.ShareableID)
	fmt.Printf("Created:       %s\n", time.UnixMilli(profile.CreatedAt).Format(time.RFC3339))
	return nil
}

func newProximity(a *app) *discovery.MDNS {
	return discovery.NewMDNS(discovery.Config{
		Port:        a.cfg.AdvertisePort,
		DisplayName: a.cfg.DisplayName,
		ShareableID: a.cfg.ShareableID,
		Profiles:    a.store,
		Logger:      logging.For(a.logger, logging.ComponentDiscovery),
	})
}

func newAdvertiser(a *app, proximity discovery.Proximity) (*discovery.Advertiser, error) {
	cfg := a.cfg
	return discovery.NewAdvertiser(discovery.AdvertiserOptions{
		Proximity: proximity,
		Identity:  func() string { return cfg.UserID },
		ServiceID: cfg.ServiceID,
		Logger:    logging.For(a.logger, logging.ComponentDiscovery),
	})
}

func runRadar(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireIdentity(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	proximity := newProximity(a)
	surface := radar.NewSurface(radar.Options{
		Logger: logging.For(a.logger, logging.ComponentRadar),
	})
	session, err := discovery.NewSession(discovery.SessionOptions{
		Proximity:   proximity,
		Lookup:      a.store,
		Permissions: discovery.InterfacePermissions{},
		SelfID:      a.cfg.UserID,
		ServiceID:   a.cfg.ServiceID,
		Observer:    surface,
		Logger:      logging.For(a.logger, logging.ComponentDiscovery),
	})
	if err != nil {
		return err
	}
	workflow := friends.NewWorkflow(a.store, logging.For(a.logger, logging.ComponentFriends))

	discoverable := discoverableFlag || a.cfg.Discoverable
	var advertiser *discovery.Advertiser
	if discoverable {
		advertiser, err = newAdvertiser(a, proximity)
		if err != nil {
			return err
		}
		if err := advertiser.Start(); err != nil {
			return err
		}
		defer advertiser.Stop()
	}

	surface.Attach()
	defer surface.Detach()
	defer session.Stop()

	// Discovery waits for the view's first size so peers are placed on the
	// real surface.
	startDiscovery := func(ctx context.Context) error {
		err := session.Start(ctx)
		if errors.Is(err, discovery.ErrPermissionDenied) {
			return fmt.Errorf("no multicast-capable network interface is up: %w", err)
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return ui.RunRadar(gctx, ui.RadarOptions{
			Surface:      surface,
			Start:        startDiscovery,
			Rescanner:    proximity,
			Requester:    workflow,
			SelfID:       a.cfg.UserID,
			SelfName:     a.cfg.DisplayName,
			Discoverable: discoverable,
			Logger:       logging.For(a.logger, logging.ComponentCLI),
		})
	})
	if advertiser != nil {
		g.Go(func() error {
			select {
			case <-advertiser.Done():
				if err := advertiser.Err(); err != nil {
					a.logger.Warn("advertiser terminated", zap.String("reason", string(advertiser.Reason())), zap.Error(err))
				}
			case <-gctx.Done():
			}
			return nil
		})
	}
	return g.Wait()
}

func runAdvertise(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireIdentity(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	advertiser, err := newAdvertiser(a, newProximity(a))
	if err != nil {
		return err
	}
	if err := advertiser.Start(); err != nil {
		return err
	}
	defer advertiser.Stop()

	fmt.Printf("Advertising %s (%s) as %s, press Ctrl+C to stop\n", a.cfg.DisplayName, a.cfg.ShareableID, a.cfg.UserID)
	select {
	case <-ctx.Done():
	case <-advertiser.Done():
		return advertiser.Err()
	}
	return nil
}

func runRequestsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireIdentity(); err != nil {
		return err
	}

	workflow := friends.NewWorkflow(a.store, logging.For(a.logger, logging.ComponentFriends))
	requests, err := workflow.PendingRequests(cmd.Context(), a.cfg.UserID)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		fmt.Println("No pending friend requests")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SENDER\tNAME\tSENT")
	for _, request := range requests {
		sent := time.UnixMilli(request.CreatedAt).Format("2006-01-02 15:04")
		fmt.Fprintf(w, "%s\t%s\t%s\n", request.SenderID, request.SenderName, sent)
	}
	return w.Flush()
}

func runRequestsSend(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireIdentity(); err != nil {
		return err
	}

	workflow := friends.NewWorkflow(a.store, logging.For(a.logger, logging.ComponentFriends))
	if err := workflow.SendRequest(cmd.Context(), args[0], a.cfg.UserID); err != nil {
		return err
	}
	fmt.Printf("Friend request sent to %s\n", args[0])
	return nil
}

func resolveRequest(cmd *cobra.Command, senderID string, accept bool) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireIdentity(); err != nil {
		return err
	}

	ctx := cmd.Context()
	workflow := friends.NewWorkflow(a.store, logging.For(a.logger, logging.ComponentFriends))
	pending, err := workflow.PendingRequests(ctx, a.cfg.UserID)
	if err != nil {
		return err
	}

	var request *models.FriendRequest
	for i := range pending {
		if pending[i].SenderID == senderID {
			request = &pending[i]
			break
		}
	}
	if request == nil {
		return fmt.Errorf("no pending friend request from %q", senderID)
	}

	if accept {
		if err := workflow.AcceptRequest(ctx, a.cfg.UserID, *request); err != nil {
			return err
		}
		fmt.Printf("You are now friends with %s\n", request.SenderName)
		return nil
	}
	if err := workflow.RejectRequest(ctx, a.cfg.UserID, *request); err != nil {
		return err
	}
	fmt.Printf("Rejected friend request from %s\n", request.SenderName)
	return nil
}

func runFriendsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireIdentity(); err != nil {
		return err
	}

	workflow := friends.NewWorkflow(a.store, logging.For(a.logger, logging.ComponentFriends))
	list, err := workflow.Friends(cmd.Context(), a.cfg.UserID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No friends yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tNAME\tSHAREABLE ID")
	for _, friend := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", friend.UserID, friend.DisplayName, friend.ShareableID)
	}
	return w.Flush()
}
