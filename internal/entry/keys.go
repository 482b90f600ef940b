package entry

import "schedline/internal/recur"

// Key is the closed set of entry keys. Sub-keys carry the anchor they
// belong to, so "&i" after "@r" is KeyRepeatInterval.
type Key uint8

const (
	KeySchedule Key = iota
	KeyExtent
	KeyAlert
	KeyBeginBy
	KeyContext
	KeyBin
	KeyDescription
	KeyPriority
	KeyTag
	KeyAttendee
	KeyLocation
	KeyURL
	KeyOffset
	KeyRepeat
	KeyInclude
	KeyExclude
	KeyFinished
	KeyJob

	KeyRepeatInterval
	KeyRepeatCount
	KeyRepeatUntil
	KeyRepeatMonth
	KeyRepeatMonthDay
	KeyRepeatWeekday
	KeyRepeatHour
	KeyRepeatMinute
	KeyRepeatSetPos
	KeyRepeatWeekNo
	KeyRepeatEaster

	KeyJobRef
	KeyJobOffset
	KeyJobExtent
	KeyJobFinished

	numKeys
)

// noKey marks the absence of an anchor.
const noKey Key = numKeys

type keyInfo struct {
	char   string
	anchor Key
	help   string
	param  recur.Param
}

var keyTable = [numKeys]keyInfo{
	KeySchedule:    {char: "s", anchor: noKey, help: "schedule: date or datetime, optional z <zone>|none"},
	KeyExtent:      {char: "e", anchor: noKey, help: "extent: duration"},
	KeyAlert:       {char: "a", anchor: noKey, help: "alert: durations: commands"},
	KeyBeginBy:     {char: "b", anchor: noKey, help: "begin by: duration before start"},
	KeyContext:     {char: "c", anchor: noKey, help: "context"},
	KeyBin:         {char: "i", anchor: noKey, help: "bin path"},
	KeyDescription: {char: "d", anchor: noKey, help: "description"},
	KeyPriority:    {char: "p", anchor: noKey, help: "priority: 1 (highest) to 5"},
	KeyTag:         {char: "t", anchor: noKey, help: "tag"},
	KeyAttendee:    {char: "u", anchor: noKey, help: "attendee"},
	KeyLocation:    {char: "l", anchor: noKey, help: "location"},
	KeyURL:         {char: "g", anchor: noKey, help: "url"},
	KeyOffset:      {char: "o", anchor: noKey, help: "offset: duration, ~duration to learn"},
	KeyRepeat:      {char: "r", anchor: noKey, help: "repetition: y, m, w, d, h or n"},
	KeyInclude:     {char: "+", anchor: noKey, help: "include dates: comma separated"},
	KeyExclude:     {char: "-", anchor: noKey, help: "exclude dates: comma separated"},
	KeyFinished:    {char: "f", anchor: noKey, help: "finished: datetime"},
	KeyJob:         {char: "j", anchor: noKey, help: "job: summary"},

	KeyRepeatInterval: {char: "i", anchor: KeyRepeat, help: "interval: positive integer", param: recur.ParamInterval},
	KeyRepeatCount:    {char: "c", anchor: KeyRepeat, help: "count: number of repetitions", param: recur.ParamCount},
	KeyRepeatUntil:    {char: "u", anchor: KeyRepeat, help: "until: date or datetime", param: recur.ParamUntil},
	KeyRepeatMonth:    {char: "m", anchor: KeyRepeat, help: "months: 1-12", param: recur.ParamByMonth},
	KeyRepeatMonthDay: {char: "d", anchor: KeyRepeat, help: "month days: 1-31 or -31 to -1", param: recur.ParamByMonthDay},
	KeyRepeatWeekday:  {char: "w", anchor: KeyRepeat, help: "weekdays: MO, +2TU, -1FR", param: recur.ParamByDay},
	KeyRepeatHour:     {char: "H", anchor: KeyRepeat, help: "hours: 0-23", param: recur.ParamByHour},
	KeyRepeatMinute:   {char: "M", anchor: KeyRepeat, help: "minutes: 0-59", param: recur.ParamByMinute},
	KeyRepeatSetPos:   {char: "s", anchor: KeyRepeat, help: "set positions", param: recur.ParamBySetPos},
	KeyRepeatWeekNo:   {char: "n", anchor: KeyRepeat, help: "week numbers", param: recur.ParamByWeekNo},
	KeyRepeatEaster:   {char: "E", anchor: KeyRepeat, help: "days from easter", param: recur.ParamByEaster},

	KeyJobRef:      {char: "r", anchor: KeyJob, help: "id: <id>[: dep,dep]"},
	KeyJobOffset:   {char: "s", anchor: KeyJob, help: "due before parent: duration"},
	KeyJobExtent:   {char: "e", anchor: KeyJob, help: "extent: duration"},
	KeyJobFinished: {char: "f", anchor: KeyJob, help: "finished: datetime"},
}

// String renders the key as typed, e.g. "@s" or "&i".
func (k Key) String() string {
	if k >= numKeys {
		return "?"
	}
	if keyTable[k].anchor == noKey {
		return "@" + keyTable[k].char
	}
	return "&" + keyTable[k].char
}

// Help is the one-line description shown for completions.
func (k Key) Help() string {
	if k >= numKeys {
		return ""
	}
	return keyTable[k].help
}

// IsSub reports whether k is an &-key.
func (k Key) IsSub() bool {
	return k < numKeys && keyTable[k].anchor != noKey
}

func atKey(char string) (Key, bool) {
	for k := Key(0); k < numKeys; k++ {
		if keyTable[k].anchor == noKey && keyTable[k].char == char {
			return k, true
		}
	}
	return noKey, false
}

func ampKey(anchor Key, char string) (Key, bool) {
	for k := Key(0); k < numKeys; k++ {
		if keyTable[k].anchor == anchor && keyTable[k].char == char {
			return k, true
		}
	}
	return noKey, false
}

func subKeys(anchor Key) []Key {
	var out []Key
	for k := Key(0); k < numKeys; k++ {
		if keyTable[k].anchor == anchor {
			out = append(out, k)
		}
	}
	return out
}

// keySet is a bitset over Key.
type keySet uint64

func setOf(keys ...Key) keySet {
	var s keySet
	for _, k := range keys {
		s |= 1 << k
	}
	return s
}

func (s keySet) has(k Key) bool { return k < numKeys && s&(1<<k) != 0 }

func (s *keySet) add(k Key) { *s |= 1 << k }
