// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chatnames derives stable human-friendly display names for chats.
// The name is a pure function of the chat id, so it is computed on read and
// never stored.
package chatnames

var adjectives = []string{
	"cheerful",
	"nimble",
	"wise",
	"tiny",
	"brave",
	"quiet",
	"radiant",
	"funny",
	"swift",
	"dreamy",
	"gentle",
	"bold",
	"smiling",
	"bright",
	"sleepy",
	"lively",
	"curious",
	"pensive",
	"fluffy",
	"playful",
}

var animals = []string{
	"panda",
	"fox",
	"kitten",
	"raccoon",
	"hamster",
	"dolphin",
	"giraffe",
	"capybara",
	"badger",
	"koala",
	"otter",
	"peacock",
	"puppy",
	"snail",
	"hedgehog",
	"meerkat",
	"beetle",
	"walrus",
	"owl",
	"penguin",
}

func hash(s string) uint32 {
	var h uint32
	for _, b := range []byte(s) {
		h = h*31 + uint32(b)
	}
	return h
}

// DisplayName maps a chat id to an adjective-animal pair. Equal ids always
// map to equal names.
func DisplayName(chatID string) string {
	h := hash(chatID)
	adjective := adjectives[h%uint32(len(adjectives))]
	animal := animals[(h>>8)%uint32(len(animals))]
	return adjective + " " + animal
}
