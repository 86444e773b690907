/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package offer implements the two pure-function decision points that
// sit in front of every launch: does an offer's attributes satisfy the
// configured constraints (C1), and how should an accepted offer's
// cpu/memory be sized into a launch (C2).
package offer

import "github.com/metamx/mesos-coarse-scheduler/ids"

// AttributeValueKind mirrors the Mesos Value.Type discriminant for an
// offer attribute.
type AttributeValueKind int

const (
	KindScalar AttributeValueKind = iota
	KindText
	KindSet
	KindRange
)

// AttributeValue is the parsed form of one entry in an offer's
// attribute map.
type AttributeValue struct {
	Kind   AttributeValueKind
	Scalar float64
	Text   string
	Set    []string
	Ranges []Range
}

// Range is an inclusive [Begin, End] span, as Mesos range-typed
// resources and attributes use.
type Range struct {
	Begin uint64
	End   uint64
}

// Offer is the subset of a resource-manager offer this package and the
// backend package need; it is built once per incoming mesosproto.Offer.
type Offer struct {
	OfferID    string
	NodeID     ids.NodeID
	Hostname   string
	Cpus       float64
	Mem        float64
	Attributes map[string]AttributeValue
}

// Sizing is the result of SizeResources: how many cpus to use, how much
// total memory to advertise to the resource manager, and how much of
// that is JVM heap.
type Sizing struct {
	CpusToUse           float64
	TotalMemToAdvertise float64
	HeapMem             float64
}
