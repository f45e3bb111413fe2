package main

import (
	"fmt"
	"strconv"
	"strings"

	"meetsync/internal/core/domain"
)

// controller is the part of MeetingSession the console drives.
type controller interface {
	SetAudioMuted(muted bool)
	SetVideoEnabled(enabled bool)
	SetDisplayName(name string)
	AssignHost(target domain.AttendeeID)
	UpdateCollaborators(raw string)
	MuteAll(muted bool)
	MuteAttendee(id domain.AttendeeID, muted bool)
	SetAttendeeVideo(id domain.AttendeeID, enabled bool)
	RemoveAttendee(id domain.AttendeeID)
	PinAttendee(id domain.AttendeeID)
	SetMaxAttendees(n int)
	SendReaction(reaction string)
	UpdateMeetingDetails(details domain.MeetingDetails)
	ChooseAudioInput(deviceID string)
	ChooseVideoInput(deviceID string)
	Leave()
}

const usage = `commands:
  mute | unmute | video on|off | name <display name>
  host <attendee>            collaborators <id,id,...>
  muteall | unmuteall        mute <attendee> | unmute <attendee>
  stopvideo <attendee>       startvideo <attendee>
  remove <attendee>          pin <attendee>
  max <n>                    react <emoji>
  title <text>               topic <text>
  mic <device>               camera <device>
  leave`

// dispatch applies one console line. Unknown or malformed lines return an
// error and leave the session untouched.
func dispatch(s controller, details func() domain.MeetingDetails, line string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	needArg := func() error {
		if rest == "" {
			return fmt.Errorf("%s needs an argument", cmd)
		}
		return nil
	}

	cmd = strings.ToLower(cmd)
	switch cmd {
	case "":
		return nil
	case "mute":
		if rest == "" {
			s.SetAudioMuted(true)
		} else {
			s.MuteAttendee(domain.AttendeeID(rest), true)
		}
	case "unmute":
		if rest == "" {
			s.SetAudioMuted(false)
		} else {
			s.MuteAttendee(domain.AttendeeID(rest), false)
		}
	case "video":
		switch rest {
		case "on":
			s.SetVideoEnabled(true)
		case "off":
			s.SetVideoEnabled(false)
		default:
			return fmt.Errorf("video takes on or off")
		}
	case "name":
		if err := needArg(); err != nil {
			return err
		}
		s.SetDisplayName(rest)
	case "host":
		if err := needArg(); err != nil {
			return err
		}
		s.AssignHost(domain.AttendeeID(rest))
	case "collaborators":
		s.UpdateCollaborators(rest)
	case "muteall":
		s.MuteAll(true)
	case "unmuteall":
		s.MuteAll(false)
	case "stopvideo", "startvideo":
		if err := needArg(); err != nil {
			return err
		}
		s.SetAttendeeVideo(domain.AttendeeID(rest), cmd == "startvideo")
	case "remove":
		if err := needArg(); err != nil {
			return err
		}
		s.RemoveAttendee(domain.AttendeeID(rest))
	case "pin":
		if err := needArg(); err != nil {
			return err
		}
		s.PinAttendee(domain.AttendeeID(rest))
	case "max":
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			return fmt.Errorf("max takes a positive number")
		}
		s.SetMaxAttendees(n)
	case "react":
		if err := needArg(); err != nil {
			return err
		}
		s.SendReaction(rest)
	case "title", "topic":
		if err := needArg(); err != nil {
			return err
		}
		d := details()
		if cmd == "title" {
			d.Title = rest
		} else {
			d.Topic = rest
		}
		s.UpdateMeetingDetails(d)
	case "mic":
		if err := needArg(); err != nil {
			return err
		}
		s.ChooseAudioInput(rest)
	case "camera":
		if err := needArg(); err != nil {
			return err
		}
		s.ChooseVideoInput(rest)
	case "leave":
		s.Leave()
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
