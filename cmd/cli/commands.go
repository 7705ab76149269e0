package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/and161185/bloodlink/internal/api"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/replica"
)

type command func(c conn, args []string) error

var commands = map[string]command{
	"register":        cmdRegister,
	"login":           cmdLogin,
	"submit":          cmdSubmit,
	"status":          cmdStatus,
	"match":           cmdMatch,
	"eligibility":     cmdEligibility,
	"reveal":          cmdReveal,
	"social":          cmdSocial,
	"profile":         cmdProfile,
	"availability":    cmdAvailability,
	"verify":          cmdVerify,
	"confirm":         cmdConfirm,
	"reject":          cmdReject,
	"set-status":      cmdSetStatus,
	"verify-account":  cmdVerifyAccount,
	"record-donation": cmdRecordDonation,
	"rate":            cmdRate,
	"event-create":    cmdEventCreate,
	"event-active":    cmdEventActive,
	"events":          cmdEvents,
	"impact":          cmdImpact,
	"watch":           cmdWatch,
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// rpc dials with token (possibly empty) and runs fn with a call deadline.
func rpc(c conn, token string, fn func(ctx context.Context, cli *api.Client) error) error {
	cc, cli, err := c.dial(token)
	if err != nil {
		return err
	}
	defer cc.Close()
	ctx, cancel := withTimeout()
	defer cancel()
	return fn(ctx, cli)
}

func need(ok bool, msg string) error {
	if !ok {
		return errors.New(msg)
	}
	return nil
}

// parseWhen accepts RFC 3339, "YYYY-MM-DD HH:MM" or "YYYY-MM-DD" (local time).
func parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad time %q: want RFC 3339 or YYYY-MM-DD[ HH:MM]", s)
}

// setFlags reports which flags were given on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// ---- auth ----

func cmdRegister(c conn, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	role := fs.String("role", "requester", "donor or requester")
	_ = fs.Parse(args)
	if err := need(*u != "" && *p != "", "need -u and -p"); err != nil {
		return err
	}
	return rpc(c, "", func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.Register(ctx, &api.RegisterRequest{Username: *u, Password: *p, Role: *role})
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, resp.UserID)
		return nil
	})
}

func cmdLogin(c conn, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	_ = fs.Parse(args)
	if err := need(*u != "" && *p != "", "need -u and -p"); err != nil {
		return err
	}
	return rpc(c, "", func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.Login(ctx, &api.LoginRequest{Username: *u, Password: *p})
		if err != nil {
			return err
		}
		if err := saveToken(tokenFile{AccessToken: resp.AccessToken, ExpiresAt: resp.ExpiresAt, UserID: resp.UserID, Role: resp.Role}); err != nil {
			return err
		}
		okColor.Fprintf(stdout, "ok: %s (%s)\n", resp.UserID, resp.Role)
		return nil
	})
}

// ---- requests ----

func cmdSubmit(c conn, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	in := &api.SubmitRequestRequest{}
	fs.StringVar(&in.PatientName, "patient", "", "patient name")
	fs.StringVar(&in.BloodType, "blood", "", "blood type, e.g. O-")
	fs.IntVar(&in.UnitsNeeded, "units", 1, "units needed (1-10)")
	fs.StringVar(&in.Hospital, "hospital", "", "hospital")
	fs.StringVar(&in.Location, "location", "", "location")
	fs.StringVar(&in.Urgency, "urgency", "normal", "critical, urgent or normal")
	needed := fs.String("needed-by", "", "deadline (RFC 3339 or YYYY-MM-DD)")
	fs.StringVar(&in.ContactName, "contact", "", "contact name")
	fs.StringVar(&in.ContactPhone, "phone", "", "contact phone")
	fs.StringVar(&in.Notes, "notes", "", "notes")
	_ = fs.Parse(args)
	if *needed != "" {
		t, err := parseWhen(*needed)
		if err != nil {
			return err
		}
		in.NeededBy = t
	}
	return rpc(c, bearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.SubmitRequest(ctx, in)
		if err != nil {
			return err
		}
		okColor.Fprintf(stdout, "tracking code: %s\n", resp.Request.TrackingCode)
		printJSON(resp.Request)
		return nil
	})
}

func cmdStatus(c conn, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	code := fs.String("code", "", "tracking code")
	_ = fs.Parse(args)
	if err := need(*code != "", "need -code"); err != nil {
		return err
	}
	return rpc(c, "", func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.GetRequest(ctx, &api.GetRequestRequest{TrackingCode: *code})
		if err != nil {
			return err
		}
		printJSON(resp.Request)
		return nil
	})
}

func cmdMatch(c conn, args []string) error {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	in := &api.MatchDonorsRequest{}
	fs.StringVar(&in.TrackingCode, "code", "", "tracking code")
	fs.StringVar(&in.BloodType, "blood", "", "override blood type")
	loc := fs.String("location", "", "override location (empty searches everywhere)")
	_ = fs.Parse(args)
	if err := need(in.TrackingCode != "", "need -code"); err != nil {
		return err
	}
	if setFlags(fs)["location"] {
		in.Location = loc
	}
	return rpc(c, bearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.MatchDonors(ctx, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%d donor(s), pass=%s\n", len(resp.Donors), resp.Pass)
		printJSON(resp.Donors)
		return nil
	})
}

func cmdSetStatus(c conn, args []string) error {
	fs := flag.NewFlagSet("set-status", flag.ExitOnError)
	in := &api.SetRequestStatusRequest{}
	fs.StringVar(&in.RequestID, "request", "", "request id")
	fs.StringVar(&in.Status, "status", "", "PENDING, APPROVED, FULFILLED or CANCELLED")
	_ = fs.Parse(args)
	if err := need(in.RequestID != "" && in.Status != "", "need -request and -status"); err != nil {
		return err
	}
	in.Status = strings.ToUpper(in.Status)
	return rpc(c, mustBearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.SetRequestStatus(ctx, in)
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	})
}

func cmdImpact(c conn, _ []string) error {
	return rpc(c, bearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.ListImpact(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%d life(s) saved\n", len(resp.Records))
		printJSON(resp.Records)
		return nil
	})
}

// ---- verification ----

func cmdVerify(c conn, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	in := &api.SubmitVerificationRequest{}
	fs.StringVar(&in.RequestID, "request", "", "request id")
	fs.StringVar(&in.DonorID, "donor", "", "donor id (optional)")
	fs.StringVar(&in.PrescriptionRef, "rx", "", "prescription reference")
	fs.StringVar(&in.BloodBagRef, "bag", "", "blood bag reference")
	_ = fs.Parse(args)
	if err := need(in.RequestID != "", "need -request"); err != nil {
		return err
	}
	return rpc(c, mustBearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.SubmitVerification(ctx, in)
		if err != nil {
			return err
		}
		printJSON(resp.Proof)
		return nil
	})
}

func proofFlag(name string, args []string) (*api.ProofRequest, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	id := fs.String("proof", "", "proof id")
	_ = fs.Parse(args)
	if *id == "" {
		return nil, errors.New("need -proof")
	}
	return &api.ProofRequest{ProofID: *id}, nil
}

func cmdConfirm(c conn, args []string) error {
	in, err := proofFlag("confirm", args)
	if err != nil {
		return err
	}
	return rpc(c, mustBearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.ConfirmVerification(ctx, in)
		if err != nil {
			return err
		}
		if resp.Fulfillment.ImpactCreated {
			okColor.Fprintln(stdout, "request fulfilled; impact recorded")
		}
		printJSON(resp)
		return nil
	})
}

func cmdReject(c conn, args []string) error {
	in, err := proofFlag("reject", args)
	if err != nil {
		return err
	}
	return rpc(c, mustBearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.RejectVerification(ctx, in)
		if err != nil {
			return err
		}
		printJSON(resp.Proof)
		return nil
	})
}

// ---- donors ----

func contactFlags(name string, args []string) (*api.CheckEligibilityRequest, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	in := &api.CheckEligibilityRequest{}
	fs.StringVar(&in.DonorID, "donor", "", "donor id")
	fs.BoolVar(&in.ViewedSocial, "viewed-social", false, "the donor's social profile was opened")
	_ = fs.Parse(args)
	if in.DonorID == "" {
		return nil, errors.New("need -donor")
	}
	return in, nil
}

func cmdEligibility(c conn, args []string) error {
	in, err := contactFlags("eligibility", args)
	if err != nil {
		return err
	}
	return rpc(c, bearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.CheckEligibility(ctx, in)
		if err != nil {
			return err
		}
		if resp.Allowed {
			okColor.Fprintln(stdout, "allowed")
			return nil
		}
		errColor.Fprintf(stdout, "denied: %s\n", resp.Reason)
		remedyColor.Fprintf(stdout, "  -> %s\n", resp.Remedy)
		return nil
	})
}

func cmdReveal(c conn, args []string) error {
	in, err := contactFlags("reveal", args)
	if err != nil {
		return err
	}
	return rpc(c, bearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.RevealContact(ctx, in)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, resp.Phone)
		return nil
	})
}

func cmdSocial(c conn, args []string) error {
	in, err := contactFlags("social", args)
	if err != nil {
		return err
	}
	return rpc(c, bearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.OpenSocialProfile(ctx, &api.CheckEligibilityRequest{DonorID: in.DonorID})
		if err != nil {
			return err
		}
		if resp.SocialURL == "" {
			fmt.Fprintln(stdout, "no social profile")
			return nil
		}
		fmt.Fprintln(stdout, resp.SocialURL)
		return nil
	})
}

func cmdProfile(c conn, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	name := fs.String("name", "", "full name")
	blood := fs.String("blood", "", "blood type")
	loc := fs.String("location", "", "location")
	phone := fs.String("phone", "", "phone")
	social := fs.String("social", "", "social profile URL (empty clears)")
	_ = fs.Parse(args)

	set := setFlags(fs)
	in := &api.UpdateDonorProfileRequest{}
	pick := func(flagName string, v *string) *string {
		if set[flagName] {
			return v
		}
		return nil
	}
	in.FullName, in.BloodType, in.Location = pick("name", name), pick("blood", blood), pick("location", loc)
	in.Phone, in.SocialURL = pick("phone", phone), pick("social", social)

	return rpc(c, mustBearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.UpdateDonorProfile(ctx, in)
		if err != nil {
			return err
		}
		if !resp.Allowed {
			if resp.DeniedUntil != nil {
				errColor.Fprintf(stdout, "profile locked until %s\n", resp.DeniedUntil.Local().Format(time.RFC1123))
			}
			remedyColor.Fprintf(stdout, "  -> try again in %s\n", time.Duration(resp.RemainingSeconds)*time.Second)
			return nil
		}
		printJSON(resp.Donor)
		return nil
	})
}

func cmdAvailability(c conn, args []string) error {
	fs := flag.NewFlagSet("availability", flag.ExitOnError)
	on := fs.Bool("on", false, "available")
	off := fs.Bool("off", false, "unavailable")
	_ = fs.Parse(args)
	if err := need(*on != *off, "need exactly one of -on, -off"); err != nil {
		return err
	}
	return rpc(c, mustBearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.SetAvailability(ctx, &api.SetAvailabilityRequest{Available: *on})
		if err != nil {
			return err
		}
		printJSON(resp.Donor)
		return nil
	})
}

func cmdVerifyAccount(c conn, args []string) error {
	fs := flag.NewFlagSet("verify-account", flag.ExitOnError)
	id := fs.String("user", "", "account id")
	revoke := fs.Bool("revoke", false, "clear verification")
	_ = fs.Parse(args)
	if err := need(*id != "", "need -user"); err != nil {
		return err
	}
	return rpc(c, mustBearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.VerifyDonor(ctx, &api.VerifyDonorRequest{DonorID: *id, Verified: !*revoke})
		if err != nil {
			return err
		}
		printJSON(resp.Donor)
		return nil
	})
}

func cmdRecordDonation(c conn, args []string) error {
	fs := flag.NewFlagSet("record-donation", flag.ExitOnError)
	id := fs.String("donor", "", "donor id")
	date := fs.String("date", "", "donation date (default now)")
	_ = fs.Parse(args)
	if err := need(*id != "", "need -donor"); err != nil {
		return err
	}
	in := &api.RecordDonationRequest{DonorID: *id}
	if *date != "" {
		t, err := parseWhen(*date)
		if err != nil {
			return err
		}
		in.Date = &t
	}
	return rpc(c, mustBearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.RecordDonation(ctx, in)
		if err != nil {
			return err
		}
		printJSON(resp.Donor)
		return nil
	})
}

func cmdRate(c conn, args []string) error {
	fs := flag.NewFlagSet("rate", flag.ExitOnError)
	in := &api.RateDonorRequest{}
	fs.StringVar(&in.DonorID, "donor", "", "donor id")
	fs.IntVar(&in.Score, "score", 0, "1..5")
	_ = fs.Parse(args)
	if err := need(in.DonorID != "", "need -donor"); err != nil {
		return err
	}
	return rpc(c, bearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.RateDonor(ctx, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "rating %.2f (%d)\n", resp.Donor.RatingAvg, resp.Donor.RatingCount)
		return nil
	})
}

// ---- events ----

func cmdEventCreate(c conn, args []string) error {
	fs := flag.NewFlagSet("event-create", flag.ExitOnError)
	in := &api.CreateEventRequest{}
	fs.StringVar(&in.Title, "title", "", "title")
	fs.StringVar(&in.Location, "location", "", "location")
	starts := fs.String("starts", "", "start time")
	inactive := fs.Bool("inactive", false, "create hidden")
	_ = fs.Parse(args)
	if err := need(*starts != "", "need -starts"); err != nil {
		return err
	}
	t, err := parseWhen(*starts)
	if err != nil {
		return err
	}
	in.StartsAt, in.Active = t, !*inactive
	return rpc(c, mustBearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.CreateEvent(ctx, in)
		if err != nil {
			return err
		}
		printJSON(resp.Event)
		return nil
	})
}

func cmdEventActive(c conn, args []string) error {
	fs := flag.NewFlagSet("event-active", flag.ExitOnError)
	id := fs.String("event", "", "event id")
	on := fs.Bool("on", false, "activate")
	off := fs.Bool("off", false, "deactivate")
	_ = fs.Parse(args)
	if err := need(*id != "" && *on != *off, "need -event and exactly one of -on, -off"); err != nil {
		return err
	}
	return rpc(c, mustBearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.SetEventActive(ctx, &api.SetEventActiveRequest{EventID: *id, Active: *on})
		if err != nil {
			return err
		}
		printJSON(resp.Event)
		return nil
	})
}

func cmdEvents(c conn, _ []string) error {
	return rpc(c, bearer(), func(ctx context.Context, cli *api.Client) error {
		resp, err := cli.ListEvents(ctx)
		if err != nil {
			return err
		}
		printJSON(resp.Events)
		return nil
	})
}

// ---- live feed ----

func statsLine(s model.Stats) string {
	return fmt.Sprintf("pending=%d critical=%d donors=%d verified=%d available=%d verifications=%d events=%d lives_saved=%d",
		s.PendingRequests, s.CriticalPending, s.TotalDonors, s.VerifiedDonors, s.AvailableDonors,
		s.PendingVerifications, s.ActiveEvents, s.LivesSaved)
}

func cmdWatch(c conn, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	tables := fs.String("tables", "", "comma-separated tables (default all)")
	wsURL := fs.String("ws", "", "use the WebSocket feed at this URL instead of gRPC")
	_ = fs.Parse(args)

	tok := mustBearer()
	var ts []string
	for _, t := range strings.Split(*tables, ",") {
		if t = strings.TrimSpace(t); t != "" {
			ts = append(ts, t)
		}
	}

	var src replica.Source
	if *wsURL != "" {
		src = wsSource{url: *wsURL, token: tok, tables: ts}
	} else {
		cc, cli, err := c.dial(tok)
		if err != nil {
			return err
		}
		defer cc.Close()
		src = api.FeedSource{Client: cli, Tables: ts}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return watch(ctx, src, stdout)
}

// watch mirrors the feed into a local replica and prints the counters after
// every change.
func watch(ctx context.Context, src replica.Source, w io.Writer) error {
	r := replica.New(nil)
	r.OnChange(func(ch replica.Change) {
		fmt.Fprintf(w, "%s %-15s %-6s %s\n", time.Now().Format("15:04:05"), ch.Table, ch.Op, statsLine(ch.Stats))
	})
	return r.Run(ctx, src)
}

// wsSource opens the server's WebSocket feed.
type wsSource struct {
	url    string
	token  string
	tables []string
}

func (s wsSource) Open(ctx context.Context) (replica.Stream, error) {
	u := s.url
	if len(s.tables) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "tables=" + strings.Join(s.tables, ",")
	}
	hdr := http.Header{}
	if s.token != "" {
		hdr.Set("Authorization", "Bearer "+s.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, hdr)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	return &wsStream{conn: conn, stop: stop}, nil
}

type wsStream struct {
	conn *websocket.Conn
	stop func() bool
}

func (s *wsStream) Recv() (model.FeedFrame, error) {
	var f model.FeedFrame
	if err := s.conn.ReadJSON(&f); err != nil {
		return model.FeedFrame{}, err
	}
	return f, nil
}

func (s *wsStream) Close() error {
	s.stop()
	return s.conn.Close()
}
